package queue

import (
	"testing"
	"time"
)

func TestRetryDelayExponential(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 5, Backoff: BackoffExponential, InitialDelayMs: 1000, MaxDelayMs: 60_000, Multiplier: 2}
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second}
	for i, w := range want {
		if got := p.Delay(i + 1); got != w {
			t.Fatalf("attempt %d: got %v, want %v", i+1, got, w)
		}
	}
}

func TestRetryDelayLinear(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 5, Backoff: BackoffLinear, InitialDelayMs: 500, MaxDelayMs: 60_000}
	if got := p.Delay(3); got != 1500*time.Millisecond {
		t.Fatalf("got %v, want 1.5s", got)
	}
}

func TestRetryDelayFixed(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 5, Backoff: BackoffFixed, InitialDelayMs: 250}
	for n := 1; n <= 4; n++ {
		if got := p.Delay(n); got != 250*time.Millisecond {
			t.Fatalf("attempt %d: got %v, want 250ms", n, got)
		}
	}
}

func TestRetryDelayCap(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 10, Backoff: BackoffExponential, InitialDelayMs: 1000, MaxDelayMs: 5000, Multiplier: 2}
	if got := p.Delay(10); got != 5*time.Second {
		t.Fatalf("got %v, want capped 5s", got)
	}
}

func TestRetryDelayJitterBounds(t *testing.T) {
	orig := jitterFloat
	defer func() { jitterFloat = orig }()

	p := RetryPolicy{MaxAttempts: 3, Backoff: BackoffFixed, InitialDelayMs: 1000, Jitter: true}

	jitterFloat = func() float64 { return 0 }
	if got := p.Delay(1); got != 500*time.Millisecond {
		t.Fatalf("lower bound: got %v, want 500ms", got)
	}
	jitterFloat = func() float64 { return 1 }
	if got := p.Delay(1); got != time.Second {
		t.Fatalf("upper bound: got %v, want 1s", got)
	}
}

func TestRetryPolicyValidate(t *testing.T) {
	if err := DefaultRetryPolicy().Validate(); err != nil {
		t.Fatalf("default policy invalid: %v", err)
	}
	bad := RetryPolicy{MaxAttempts: 0, Backoff: BackoffFixed, InitialDelayMs: 10}
	if err := bad.Validate(); err == nil {
		t.Fatal("expected error for maxAttempts=0")
	}
	bad = RetryPolicy{MaxAttempts: 1, Backoff: "bogus"}
	if err := bad.Validate(); err == nil {
		t.Fatal("expected error for unknown backoff type")
	}
	bad = RetryPolicy{MaxAttempts: 1, Backoff: BackoffExponential, Multiplier: 0}
	if err := bad.Validate(); err == nil {
		t.Fatal("expected error for zero multiplier")
	}
}

func TestMessageRoundTrip(t *testing.T) {
	m := &Message{
		ID:            "0123",
		Type:          "email.send",
		Payload:       []byte(`{"to":"a@b.c"}`),
		Priority:      PriorityHigh,
		Queue:         "mail",
		CreatedAtMs:   1700000000000,
		Attempts:      2,
		MaxAttempts:   5,
		Metadata:      map[string]string{"tenant": "t1"},
		CorrelationID: "corr-9",
		ExpiresAtMs:   1700000500000,
	}
	b, err := m.Encode()
	if err != nil {
		t.Fatal(err)
	}
	got, err := DecodeMessage(b)
	if err != nil {
		t.Fatal(err)
	}
	b2, err := got.Encode()
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != string(b2) {
		t.Fatalf("round trip not byte-stable:\n%s\n%s", b, b2)
	}
	if got.Metadata["tenant"] != "t1" || got.Attempts != 2 {
		t.Fatalf("fields lost in round trip: %+v", got)
	}
}

func TestMessageExpired(t *testing.T) {
	m := &Message{ExpiresAtMs: 1000}
	if m.Expired(999) {
		t.Fatal("not yet expired")
	}
	if !m.Expired(1001) {
		t.Fatal("should be expired")
	}
	m.ExpiresAtMs = 0
	if m.Expired(1 << 60) {
		t.Fatal("zero expiry never expires")
	}
}

func TestMessageCloneIsDeep(t *testing.T) {
	m := &Message{Payload: []byte(`{"a":1}`), Metadata: map[string]string{"k": "v"}}
	c := m.Clone()
	c.Payload[2] = 'x'
	c.Metadata["k"] = "changed"
	if string(m.Payload) != `{"a":1}` || m.Metadata["k"] != "v" {
		t.Fatal("clone aliases original state")
	}
}
