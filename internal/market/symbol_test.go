package market

import (
	"errors"
	"testing"
)

func TestParse_Valid(t *testing.T) {
	s, err := Parse("KRW-BTC")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.Code != "KRW-BTC" {
		t.Errorf("expected code=KRW-BTC, got %s", s.Code)
	}
	if s.Quote != "KRW" {
		t.Errorf("expected quote=KRW, got %s", s.Quote)
	}
	if s.Base != "BTC" {
		t.Errorf("expected base=BTC, got %s", s.Base)
	}
}

func TestParse_NormalizesCase(t *testing.T) {
	s, err := Parse("  krw-eth ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.Code != "KRW-ETH" {
		t.Errorf("expected KRW-ETH, got %s", s.Code)
	}
}

func TestParse_InvalidFormat(t *testing.T) {
	tests := []string{
		"",
		"BTC",
		"KRW-",
		"-BTC",
		"KRW_BTC",
		"KRW-BTC-ETH",
		"K-BTC", // quote too short
	}
	for _, raw := range tests {
		_, err := Parse(raw)
		if err == nil {
			t.Errorf("expected error for symbol %q", raw)
			continue
		}
		if !errors.Is(err, ErrInvalidSymbol) {
			t.Errorf("expected ErrInvalidSymbol for %q, got %v", raw, err)
		}
	}
}

func TestNormalize_DedupesAndDropsInvalid(t *testing.T) {
	got := Normalize([]string{"KRW-BTC", "krw-btc", "bad", "KRW-ETH"})
	if len(got) != 2 {
		t.Fatalf("expected 2 symbols, got %v", got)
	}
	if got[0] != "KRW-BTC" || got[1] != "KRW-ETH" {
		t.Errorf("unexpected order: %v", got)
	}
}

func TestSymbol_InQuote(t *testing.T) {
	s, _ := Parse("KRW-BTC")
	if !s.InQuote("krw") {
		t.Error("expected KRW-BTC to be in quote KRW")
	}
	if s.InQuote("USDT") {
		t.Error("expected KRW-BTC not to be in quote USDT")
	}
}
