package scope

import "testing"

// --- Level tests ---

func TestLevelValid(t *testing.T) {
	for l := MinLevel; l <= MaxLevel; l++ {
		if !l.Valid() {
			t.Errorf("expected level %d to be valid", int(l))
		}
	}
	if Level(-1).Valid() {
		t.Error("expected level -1 to be invalid")
	}
	if Level(5).Valid() {
		t.Error("expected level 5 to be invalid")
	}
}

func TestLevelString(t *testing.T) {
	if got := LevelPlatformStop.String(); got != "platform_stop" {
		t.Errorf("expected platform_stop, got %q", got)
	}
	if got := LevelThrottle.String(); got != "throttle" {
		t.Errorf("expected throttle, got %q", got)
	}
}

// --- Ref tests ---

func TestValidateGlobal(t *testing.T) {
	if err := Global.Validate(); err != nil {
		t.Errorf("expected global to validate, got %v", err)
	}
	bad := Ref{Kind: KindGlobal, Value: "x"}
	if err := bad.Validate(); err == nil {
		t.Error("expected global with value to be rejected")
	}
}

func TestValidateRequiresValue(t *testing.T) {
	for _, kind := range []Kind{KindTenant, KindService, KindFeature, KindRateLimit} {
		r := Ref{Kind: kind}
		if err := r.Validate(); err == nil {
			t.Errorf("expected %s without value to be rejected", kind)
		}
	}
}

func TestValidateRejectsColon(t *testing.T) {
	r := Tenant("a:b")
	if err := r.Validate(); err == nil {
		t.Error("expected value containing colon to be rejected")
	}
}

func TestValidateUnknownKind(t *testing.T) {
	r := Ref{Kind: "cluster", Value: "eu-1"}
	if err := r.Validate(); err == nil {
		t.Error("expected unknown kind to be rejected")
	}
}

func TestStringRoundTrip(t *testing.T) {
	refs := []Ref{
		Global,
		Tenant("42"),
		Service("payments"),
		Feature("beta-search"),
		RateLimitTarget("api-writes"),
	}
	for _, want := range refs {
		got, err := Parse(want.String())
		if err != nil {
			t.Fatalf("parse %q: %v", want.String(), err)
		}
		if got != want {
			t.Errorf("round trip %q: got %+v", want.String(), got)
		}
	}
}

func TestParseRejectsBare(t *testing.T) {
	if _, err := Parse("tenant"); err == nil {
		t.Error("expected bare kind without value to be rejected")
	}
	if _, err := Parse(""); err == nil {
		t.Error("expected empty scope to be rejected")
	}
}

// --- Legality tests ---

func TestLegalForLevel(t *testing.T) {
	cases := []struct {
		level Level
		ref   Ref
		legal bool
	}{
		{LevelPlatformStop, Global, true},
		{LevelPlatformStop, Tenant("42"), false},
		{LevelTenantHalt, Tenant("42"), true},
		{LevelTenantHalt, Global, false},
		{LevelServiceStop, Service("payments"), true},
		{LevelServiceStop, Feature("beta"), false},
		{LevelFeatureOff, Feature("beta"), true},
		{LevelFeatureOff, RateLimitTarget("k"), false},
		{LevelThrottle, Global, true},
		{LevelThrottle, Service("payments"), true},
		{LevelThrottle, RateLimitTarget("api-writes"), true},
		{LevelThrottle, Tenant("42"), false},
		{LevelThrottle, Feature("beta"), false},
	}
	for _, c := range cases {
		if got := LegalForLevel(c.level, c.ref); got != c.legal {
			t.Errorf("LegalForLevel(%s, %s) = %v, want %v", c.level, c.ref, got, c.legal)
		}
	}
}

// --- Key tests ---

func TestKeyString(t *testing.T) {
	k := Key{Level: LevelTenantHalt, Scope: Tenant("42")}
	if got := k.String(); got != "1/tenant:42" {
		t.Errorf("expected 1/tenant:42, got %q", got)
	}
}

func TestParseKeyRoundTrip(t *testing.T) {
	want := Key{Level: LevelThrottle, Scope: RateLimitTarget("api-writes")}
	got, err := ParseKey(want.String())
	if err != nil {
		t.Fatalf("parse key: %v", err)
	}
	if got != want {
		t.Errorf("round trip: got %+v", got)
	}
}

func TestParseKeyRejectsOutOfRange(t *testing.T) {
	if _, err := ParseKey("9/global"); err == nil {
		t.Error("expected out-of-range level to be rejected")
	}
}
