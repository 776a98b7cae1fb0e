package vmengine

import (
	"encoding/json"
	"math/big"
	"testing"
)

func TestValueJSONRoundTrip(t *testing.T) {
	fp, err := FixedFromString("12.50")
	if err != nil {
		t.Fatal(err)
	}
	orig := Map(map[string]Value{
		"to":     String("deadbeef"),
		"amount": fp,
		"count":  Int(3),
		"ok":     Bool(true),
		"tags":   List([]Value{String("a"), String("b")}),
	})

	data, err := json.Marshal(orig)
	if err != nil {
		t.Fatal(err)
	}
	var decoded Value
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatal(err)
	}

	amt, err := decoded.Map["amount"].AsFixed()
	if err != nil {
		t.Fatal(err)
	}
	want, _ := new(big.Rat).SetString("12.50")
	if amt.Cmp(want) != 0 {
		t.Errorf("got %s want %s", amt.RatString(), want.RatString())
	}
	if s, _ := decoded.Map["to"].AsString(); s != "deadbeef" {
		t.Errorf("got %q want deadbeef", s)
	}
	if len(decoded.Map["tags"].List) != 2 {
		t.Errorf("expected 2 tags, got %d", len(decoded.Map["tags"].List))
	}
}

func TestDecodeKwargsEmpty(t *testing.T) {
	m, err := DecodeKwargs(nil)
	if err != nil || len(m) != 0 {
		t.Errorf("expected empty map, got %v, %v", m, err)
	}
}
