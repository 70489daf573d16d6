package app

import (
	"strings"
	"testing"
)

func TestValidateSecurityConfig(t *testing.T) {
	cases := []struct {
		name    string
		cfg     Config
		hmacKey string
		wantErr string
	}{
		{name: "defaults", cfg: Config{}},
		{name: "valid index key", cfg: Config{IndexKeyHex: strings.Repeat("ab", 32)}},
		{name: "short index key", cfg: Config{IndexKeyHex: "abcd"}, wantErr: "WHIZQR_INDEX_KEY_HEX"},
		{name: "hmac required missing", cfg: Config{RequireTokenHMAC: true}, wantErr: "is missing"},
		{name: "hmac required short", cfg: Config{RequireTokenHMAC: true}, hmacKey: "short", wantErr: "too short"},
		{name: "hmac required ok", cfg: Config{RequireTokenHMAC: true}, hmacKey: strings.Repeat("k", 32)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv("WHIZQR_TOKEN_HMAC_KEY", tc.hmacKey)
			err := ValidateSecurityConfig(tc.cfg)
			if tc.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("err=%v want containing %q", err, tc.wantErr)
			}
		})
	}
}
