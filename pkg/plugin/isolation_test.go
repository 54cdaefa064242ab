package plugin

import "testing"

func TestNoopIsolationValidate(t *testing.T) {
	tests := []struct {
		name    string
		imports []string
		policy  ImportPolicy
		wantErr bool
	}{
		{name: "no policy allows everything", imports: []string{"node-fetch"}},
		{name: "denied import", imports: []string{"fs"}, policy: ImportPolicy{DeniedImports: []string{"fs"}}, wantErr: true},
		{name: "allow list hit", imports: []string{"crypto"}, policy: ImportPolicy{AllowedImports: []string{"crypto", "url"}}},
		{name: "allow list miss", imports: []string{"net"}, policy: ImportPolicy{AllowedImports: []string{"crypto"}}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NoopIsolationStrategy{}.Validate("p", tt.imports, tt.policy)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() err=%v, wantErr=%v", err, tt.wantErr)
			}
		})
	}
}

func TestMergePoliciesAndEnsure(t *testing.T) {
	defaults := ImportPolicy{DeniedImports: []string{"fs"}}
	merged := MergePolicies(defaults, &ImportPolicy{AllowedImports: []string{"url"}})
	if len(merged.AllowedImports) != 1 || len(merged.DeniedImports) != 1 {
		t.Fatalf("unexpected merge: %+v", merged)
	}
	if got := MergePolicies(defaults, nil); len(got.DeniedImports) != 1 {
		t.Fatalf("nil override should keep defaults: %+v", got)
	}
	if err := EnsurePolicy([]string{"url"}, ImportPolicy{}, true); err == nil {
		t.Fatalf("strict mode without policy should fail")
	}
	if err := EnsurePolicy([]string{"url"}, ImportPolicy{}, false); err != nil {
		t.Fatalf("non-strict mode should pass: %v", err)
	}
}
