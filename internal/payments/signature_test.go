package payments

import (
	"strings"
	"testing"
)

func TestSignVerifyRoundtrip(t *testing.T) {
	t.Parallel()

	params := map[string]string{
		"txn_ref":        "OWLABC12DEF-1a2b3c4d",
		"gateway_txn_id": "GW-991",
		"amount":         "250000",
		"response_code":  "00",
		"pay_date":       "20260301100000",
	}
	sig := Sign(params, "s3cret")
	if !Verify(params, "s3cret", sig) {
		t.Fatal("signature must verify against itself")
	}
	if !Verify(params, "s3cret", strings.ToUpper(sig)) {
		t.Error("verification must accept uppercase hex")
	}
}

func TestVerifyRejectsTamper(t *testing.T) {
	t.Parallel()

	params := map[string]string{"txn_ref": "T1", "amount": "100"}
	sig := Sign(params, "s3cret")

	params["amount"] = "101"
	if Verify(params, "s3cret", sig) {
		t.Error("tampered amount must fail verification")
	}

	params["amount"] = "100"
	if Verify(params, "other-secret", sig) {
		t.Error("wrong secret must fail verification")
	}
}

func TestSignIsParamOrderIndependent(t *testing.T) {
	t.Parallel()

	a := Sign(map[string]string{"b": "2", "a": "1", "c": "3"}, "k")
	b := Sign(map[string]string{"c": "3", "a": "1", "b": "2"}, "k")
	if a != b {
		t.Error("signature must not depend on map iteration order")
	}
}

func TestSignEscapesValues(t *testing.T) {
	t.Parallel()

	plain := Sign(map[string]string{"note": "a&b=c"}, "k")
	split := Sign(map[string]string{"note": "a", "b": "c"}, "k")
	if plain == split {
		t.Error("unescaped values would collide across different param sets")
	}
}
