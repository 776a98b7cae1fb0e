// Package asset implements mintable/tradeable game assets and their
// templates, adapted from the teacher's vm/modules/asset/*.go to the
// spec's kwargs calling convention. Asset and Template records are
// JSON-encoded and stored as single StateDriver variables, since
// StateDriver has no structured-accessor methods of its own.
package asset

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tolelom/delegate/crypto"
	"github.com/tolelom/delegate/events"
	"github.com/tolelom/delegate/vmengine"
)

func init() {
	vmengine.Register("asset", "register_template", handleRegisterTemplate)
	vmengine.Register("asset", "mint", handleMint)
	vmengine.Register("asset", "burn", handleBurn)
	vmengine.Register("asset", "transfer", handleTransferAsset)
}

// Template describes a class of mintable assets.
type Template struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Schema    string `json:"schema"`
	Tradeable bool   `json:"tradeable"`
	Creator   string `json:"creator"`
}

// Asset is one minted, individually-owned game item.
type Asset struct {
	ID              string            `json:"id"`
	TemplateID      string            `json:"template_id"`
	Owner           string            `json:"owner"`
	Properties      map[string]string `json:"properties"`
	Tradeable       bool              `json:"tradeable"`
	ActiveListingID string            `json:"active_listing_id,omitempty"`
	MintedAt        int64             `json:"minted_at"`
}

func getTemplate(ctx *vmengine.Context, id string) (*Template, error) {
	raw, ok := ctx.State.GetVar("asset", "template", id)
	if !ok {
		return nil, fmt.Errorf("asset: template %q not found", id)
	}
	var t Template
	if err := json.Unmarshal([]byte(raw), &t); err != nil {
		return nil, fmt.Errorf("asset: corrupt template %q: %w", id, err)
	}
	return &t, nil
}

func setTemplate(ctx *vmengine.Context, t *Template) error {
	data, err := json.Marshal(t)
	if err != nil {
		return err
	}
	ctx.State.SetVar("asset", "template", string(data), t.ID)
	return nil
}

// GetAsset loads an Asset record, exported for the market module.
func GetAsset(ctx *vmengine.Context, id string) (*Asset, error) {
	raw, ok := ctx.State.GetVar("asset", "record", id)
	if !ok {
		return nil, fmt.Errorf("asset: %q not found", id)
	}
	var a Asset
	if err := json.Unmarshal([]byte(raw), &a); err != nil {
		return nil, fmt.Errorf("asset: corrupt record %q: %w", id, err)
	}
	return &a, nil
}

// SetAsset persists an Asset record, exported for the market module.
func SetAsset(ctx *vmengine.Context, a *Asset) error {
	data, err := json.Marshal(a)
	if err != nil {
		return err
	}
	ctx.State.SetVar("asset", "record", string(data), a.ID)
	return nil
}

func handleRegisterTemplate(ctx *vmengine.Context, kwargs map[string]vmengine.Value) (string, error) {
	id, _ := kwargs["id"].AsString()
	if id == "" {
		return "", errors.New("asset: register_template requires 'id'")
	}
	if _, err := getTemplate(ctx, id); err == nil {
		return "", fmt.Errorf("asset: template %q already exists", id)
	}
	name, _ := kwargs["name"].AsString()
	schema, _ := kwargs["schema"].AsString()
	tradeable := kwargs["tradeable"].Bool

	t := &Template{ID: id, Name: name, Schema: schema, Tradeable: tradeable, Creator: ctx.Sender}
	if err := setTemplate(ctx, t); err != nil {
		return "", err
	}
	if ctx.Emitter != nil {
		ctx.Emitter.Emit(events.Event{
			Type: events.EventTemplateReg,
			TxID: ctx.HLC,
			Data: map[string]any{"template_id": id, "name": name},
		})
	}
	return id, nil
}

func handleMint(ctx *vmengine.Context, kwargs map[string]vmengine.Value) (string, error) {
	templateID, _ := kwargs["template_id"].AsString()
	if templateID == "" {
		return "", errors.New("asset: mint requires 'template_id'")
	}
	tmpl, err := getTemplate(ctx, templateID)
	if err != nil {
		return "", err
	}

	owner, _ := kwargs["owner"].AsString()
	if owner == "" {
		owner = ctx.Sender
	} else if _, err := crypto.PubKeyFromHex(owner); err != nil {
		return "", fmt.Errorf("asset: invalid owner pubkey: %w", err)
	}

	props := map[string]string{}
	if v, ok := kwargs["properties"]; ok && v.Kind == vmengine.KindMap {
		for k, pv := range v.Map {
			props[k], _ = pv.AsString()
		}
	}

	assetID := crypto.Hash([]byte(ctx.HLC + ":asset:" + templateID))
	a := &Asset{
		ID:         assetID,
		TemplateID: templateID,
		Owner:      owner,
		Properties: props,
		Tradeable:  tmpl.Tradeable,
	}
	if err := SetAsset(ctx, a); err != nil {
		return "", err
	}
	if ctx.Emitter != nil {
		ctx.Emitter.Emit(events.Event{
			Type: events.EventAssetMinted,
			TxID: ctx.HLC,
			Data: map[string]any{"asset_id": assetID, "template_id": templateID, "owner": owner},
		})
	}
	return assetID, nil
}

func handleBurn(ctx *vmengine.Context, kwargs map[string]vmengine.Value) (string, error) {
	assetID, _ := kwargs["asset_id"].AsString()
	a, err := GetAsset(ctx, assetID)
	if err != nil {
		return "", err
	}
	if a.Owner != ctx.Sender {
		return "", errors.New("asset: only the owner can burn it")
	}
	if a.ActiveListingID != "" {
		return "", fmt.Errorf("asset: %q has an active listing; cancel it before burning", assetID)
	}
	ctx.State.SetVar("asset", "record", "", assetID) // tombstone; no delete primitive on StateDriver
	if ctx.Emitter != nil {
		ctx.Emitter.Emit(events.Event{
			Type: events.EventAssetBurned,
			TxID: ctx.HLC,
			Data: map[string]any{"asset_id": assetID, "owner": a.Owner},
		})
	}
	return assetID, nil
}

func handleTransferAsset(ctx *vmengine.Context, kwargs map[string]vmengine.Value) (string, error) {
	assetID, _ := kwargs["asset_id"].AsString()
	to, _ := kwargs["to"].AsString()
	if to == "" {
		return "", errors.New("asset: transfer requires 'to'")
	}
	if _, err := crypto.PubKeyFromHex(to); err != nil {
		return "", fmt.Errorf("asset: invalid to pubkey: %w", err)
	}

	a, err := GetAsset(ctx, assetID)
	if err != nil {
		return "", err
	}
	if a.Owner != ctx.Sender {
		return "", errors.New("asset: only the owner can transfer it")
	}
	if !a.Tradeable {
		return "", errors.New("asset: not tradeable")
	}
	if a.ActiveListingID != "" {
		return "", fmt.Errorf("asset: %q has an active listing; cancel it before transferring", assetID)
	}
	a.Owner = to
	if err := SetAsset(ctx, a); err != nil {
		return "", err
	}
	if ctx.Emitter != nil {
		ctx.Emitter.Emit(events.Event{
			Type: events.EventAssetTransfer,
			TxID: ctx.HLC,
			Data: map[string]any{"asset_id": assetID, "from": ctx.Sender, "to": to},
		})
	}
	return assetID, nil
}
