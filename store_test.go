package keyfold

import (
	"strings"
	"testing"
)

func validProfile() ProfileRecord {
	return ProfileRecord{
		UserID: "alice",
		MasterCredential: MasterCredentialRecord{
			Salt:       "bWFzdGVyLXNhbHQ",
			Verifier:   "dmVyaWZpZXI",
			KDFVersion: 1,
		},
	}
}

func TestProfileRecord_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(p *ProfileRecord)
		wantErr string
	}{
		{
			name:   "valid without duress",
			mutate: func(p *ProfileRecord) {},
		},
		{
			name: "valid with duress",
			mutate: func(p *ProfileRecord) {
				p.DuressCredential = &DuressCredentialRecord{
					Salt:       "ZHVyZXNzLXNhbHQ",
					Verifier:   "ZHVyZXNzLXZlcmlmaWVy",
					KDFVersion: 1,
				}
			},
		},
		{
			name:    "missing user id",
			mutate:  func(p *ProfileRecord) { p.UserID = "" },
			wantErr: "missing user id",
		},
		{
			name:    "missing master salt",
			mutate:  func(p *ProfileRecord) { p.MasterCredential.Salt = "" },
			wantErr: "master credential: missing salt",
		},
		{
			name:    "missing master verifier",
			mutate:  func(p *ProfileRecord) { p.MasterCredential.Verifier = "" },
			wantErr: "master credential: missing verifier",
		},
		{
			name:    "zero kdf version",
			mutate:  func(p *ProfileRecord) { p.MasterCredential.KDFVersion = 0 },
			wantErr: "invalid kdf version",
		},
		{
			name: "duress missing verifier",
			mutate: func(p *ProfileRecord) {
				p.DuressCredential = &DuressCredentialRecord{Salt: "ZHVyZXNzLXNhbHQ", KDFVersion: 1}
			},
			wantErr: "duress credential: missing verifier",
		},
		{
			name: "duress salt equals master salt",
			mutate: func(p *ProfileRecord) {
				p.DuressCredential = &DuressCredentialRecord{
					Salt:       p.MasterCredential.Salt,
					Verifier:   "ZHVyZXNzLXZlcmlmaWVy",
					KDFVersion: 1,
				}
			},
			wantErr: "duress salt equals master salt",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := validProfile()
			tt.mutate(&p)
			err := p.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestStores_Validate(t *testing.T) {
	// Embedded-interface values satisfy the store interfaces without
	// implementing any methods; validate() only checks for nil.
	full := Stores{
		Profiles:    struct{ ProfileStore }{},
		Vault:       struct{ VaultStore }{},
		Collections: struct{ CollectionStore }{},
		Directory:   struct{ MemberDirectory }{},
		Anchor:      struct{ TrustAnchorStore }{},
	}

	if err := full.validate(); err != nil {
		t.Errorf("validate() with all stores error = %v", err)
	}

	tests := []struct {
		name   string
		mutate func(s *Stores)
	}{
		{"nil profiles", func(s *Stores) { s.Profiles = nil }},
		{"nil vault", func(s *Stores) { s.Vault = nil }},
		{"nil collections", func(s *Stores) { s.Collections = nil }},
		{"nil directory", func(s *Stores) { s.Directory = nil }},
		{"nil anchor", func(s *Stores) { s.Anchor = nil }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := full
			tt.mutate(&s)
			err := s.validate()
			if err == nil || !strings.Contains(err.Error(), "store") {
				t.Errorf("validate() error = %v, want ErrMissingStore", err)
			}
		})
	}
}
