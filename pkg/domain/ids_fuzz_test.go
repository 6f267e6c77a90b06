package domain

import (
	"testing"
)

// FuzzParseRegistrationID checks that parsing never panics on arbitrary input
// and that every accepted ID round-trips.
func FuzzParseRegistrationID(f *testing.F) {
	f.Add("")
	f.Add("550e8400-e29b-41d4-a716-446655440000")
	f.Add("00000000-0000-0000-0000-000000000000")
	f.Add("not-a-uuid")
	f.Add(string([]byte{0x00, 0x01, 0x02}))

	f.Fuzz(func(t *testing.T, input string) {
		id, err := ParseRegistrationID(input)
		if err != nil {
			return
		}
		if id.IsNil() {
			t.Fatal("accepted nil registration id")
		}
		roundTrip, err := ParseRegistrationID(id.String())
		if err != nil {
			t.Fatalf("valid id failed round-trip: %v", err)
		}
		if roundTrip != id {
			t.Fatal("round-trip changed id value")
		}
	})
}

func FuzzParsePrincipalID(f *testing.F) {
	f.Add("rdmx6-jaaaa-aaaah-qcaiq-cai")
	f.Add("")
	f.Add("with space")

	f.Fuzz(func(t *testing.T, input string) {
		p, err := ParsePrincipalID(input)
		if err != nil {
			return
		}
		again, err := ParsePrincipalID(p.String())
		if err != nil || again != p {
			t.Fatalf("principal %q not stable under re-parse", p)
		}
	})
}
