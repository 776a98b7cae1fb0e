// Package market implements a simple asset marketplace, adapted from
// the teacher's vm/modules/market/market.go to the spec's kwargs
// calling convention and the currency/asset modules' StateDriver
// record layout.
package market

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"

	"github.com/tolelom/delegate/crypto"
	"github.com/tolelom/delegate/events"
	"github.com/tolelom/delegate/vmengine"
	"github.com/tolelom/delegate/vmengine/modules/asset"
)

func init() {
	vmengine.Register("market", "list", handleList)
	vmengine.Register("market", "buy", handleBuy)
}

// Listing is an active or settled marketplace offer.
type Listing struct {
	ID      string `json:"id"`
	AssetID string `json:"asset_id"`
	Seller  string `json:"seller"`
	Price   string `json:"price"` // big.Rat literal
	Active  bool   `json:"active"`
}

func getListing(ctx *vmengine.Context, id string) (*Listing, error) {
	raw, ok := ctx.State.GetVar("market", "listing", id)
	if !ok {
		return nil, fmt.Errorf("market: listing %q not found", id)
	}
	var l Listing
	if err := json.Unmarshal([]byte(raw), &l); err != nil {
		return nil, fmt.Errorf("market: corrupt listing %q: %w", id, err)
	}
	return &l, nil
}

func setListing(ctx *vmengine.Context, l *Listing) error {
	data, err := json.Marshal(l)
	if err != nil {
		return err
	}
	ctx.State.SetVar("market", "listing", string(data), l.ID)
	return nil
}

func handleList(ctx *vmengine.Context, kwargs map[string]vmengine.Value) (string, error) {
	assetID, _ := kwargs["asset_id"].AsString()
	price, err := kwargs["price"].AsFixed()
	if err != nil || price.Sign() <= 0 {
		return "", errors.New("market: list requires a positive fixed-point 'price'")
	}

	a, err := asset.GetAsset(ctx, assetID)
	if err != nil {
		return "", err
	}
	if a.Owner != ctx.Sender {
		return "", errors.New("market: only the asset owner can list it")
	}
	if !a.Tradeable {
		return "", errors.New("market: asset is not tradeable")
	}
	if a.ActiveListingID != "" {
		return "", fmt.Errorf("market: asset %q is already listed (listing %s)", assetID, a.ActiveListingID)
	}

	listingID := crypto.Hash([]byte(ctx.HLC + ":listing:" + assetID))
	l := &Listing{ID: listingID, AssetID: assetID, Seller: ctx.Sender, Price: price.RatString(), Active: true}
	if err := setListing(ctx, l); err != nil {
		return "", err
	}
	a.ActiveListingID = listingID
	if err := asset.SetAsset(ctx, a); err != nil {
		return "", err
	}

	if ctx.Emitter != nil {
		ctx.Emitter.Emit(events.Event{
			Type: events.EventMarketList,
			TxID: ctx.HLC,
			Data: map[string]any{"listing_id": listingID, "asset_id": assetID, "price": l.Price},
		})
	}
	return listingID, nil
}

func handleBuy(ctx *vmengine.Context, kwargs map[string]vmengine.Value) (string, error) {
	listingID, _ := kwargs["listing_id"].AsString()
	l, err := getListing(ctx, listingID)
	if err != nil {
		return "", err
	}
	if !l.Active {
		return "", fmt.Errorf("market: listing %q is no longer active", listingID)
	}
	if l.Seller == ctx.Sender {
		return "", errors.New("market: seller cannot buy their own listing")
	}
	price, ok := new(big.Rat).SetString(l.Price)
	if !ok {
		return "", fmt.Errorf("market: corrupt listing price %q", l.Price)
	}

	buyer := vmengine.GetBalance(ctx.State, ctx.Sender)
	if buyer.Cmp(price) < 0 {
		return "", fmt.Errorf("market: insufficient balance: have %s need %s", buyer.RatString(), l.Price)
	}
	buyer.Sub(buyer, price)
	vmengine.SetBalance(ctx.State, ctx.Sender, buyer)

	seller := vmengine.GetBalance(ctx.State, l.Seller)
	seller.Add(seller, price)
	vmengine.SetBalance(ctx.State, l.Seller, seller)

	a, err := asset.GetAsset(ctx, l.AssetID)
	if err != nil {
		return "", err
	}
	a.Owner = ctx.Sender
	a.ActiveListingID = ""
	if err := asset.SetAsset(ctx, a); err != nil {
		return "", err
	}

	l.Active = false
	if err := setListing(ctx, l); err != nil {
		return "", err
	}

	if ctx.Emitter != nil {
		ctx.Emitter.Emit(events.Event{
			Type: events.EventMarketBuy,
			TxID: ctx.HLC,
			Data: map[string]any{
				"listing_id": listingID, "asset_id": l.AssetID,
				"buyer": ctx.Sender, "seller": l.Seller, "price": l.Price,
			},
		})
	}
	return listingID, nil
}
