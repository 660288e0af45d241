package config

import (
	"testing"

	"github.com/marmos91/dicomul/pkg/ul/negotiation"
	"github.com/marmos91/dicomul/pkg/ul/uid"
)

func TestPolicyConfig_Build(t *testing.T) {
	p := PolicyConfig{
		AETitle:            "ARCHIVE",
		CheckCalledAETitle: true,
		CallingAETitles:    []string{"CT01"},
		Syntaxes: []SyntaxConfig{
			{AbstractSyntax: uid.Verification, TransferSyntaxes: []string{uid.ImplicitVRLittleEndian}},
			{AbstractSyntax: uid.CTImageStorage, TransferSyntaxes: []string{uid.LocalEndianExplicit}, Role: "scu/scp"},
		},
	}

	policy, err := p.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	got := policy.AbstractSyntaxes()
	if len(got) != 2 || got[0] != uid.Verification || got[1] != uid.CTImageStorage {
		t.Errorf("Expected syntaxes in configuration order, got %v", got)
	}
	if policy.Role(uid.CTImageStorage) != negotiation.RoleSCUSCP {
		t.Errorf("Expected scu/scp role, got %s", policy.Role(uid.CTImageStorage))
	}
	if ts := policy.TransferSyntaxes(uid.CTImageStorage); len(ts) != 1 || ts[0] == uid.LocalEndianExplicit {
		t.Errorf("Expected the symbolic name to be resolved, got %v", ts)
	}
	if policy.AcceptsCalledAETitle("OTHER") {
		t.Error("Expected a foreign called AE title to be refused")
	}
	if !policy.AcceptsCalledAETitle("ARCHIVE") {
		t.Error("Expected the own AE title to be accepted")
	}
	if policy.AcceptsCallingAETitle("MR01") {
		t.Error("Expected a calling AE title outside the allowlist to be refused")
	}
}

func TestPolicyConfig_BuildWithoutCalledCheck(t *testing.T) {
	cfg := GetDefaultConfig()

	policy, err := cfg.AcceptorPolicy()
	if err != nil {
		t.Fatalf("AcceptorPolicy failed: %v", err)
	}
	if !policy.AcceptsCalledAETitle("ANYTHING") {
		t.Error("Expected any called AE title to be accepted")
	}
	if !policy.AcceptsCallingAETitle("ANYONE") {
		t.Error("Expected any calling AE title to be accepted")
	}
}

func TestPolicyConfig_BuildRejectsBadRole(t *testing.T) {
	p := PolicyConfig{Syntaxes: []SyntaxConfig{
		{AbstractSyntax: uid.Verification, TransferSyntaxes: []string{uid.ImplicitVRLittleEndian}, Role: "observer"},
	}}

	if _, err := p.Build(); err == nil {
		t.Fatal("Expected error for an unknown role")
	}
}

func TestClientConfig_Parameters(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Client.Contexts = append(cfg.Client.Contexts, SyntaxConfig{
		AbstractSyntax:   uid.CTImageStorage,
		TransferSyntaxes: []string{uid.JPEGLossless, uid.ExplicitVRLittleEndian},
		Role:             "scp",
	})

	params, err := cfg.Client.Parameters()
	if err != nil {
		t.Fatalf("Parameters failed: %v", err)
	}

	if params.CallingAETitle != DefaultCallingAETitle || params.CalledAETitle != DefaultCalledAETitle {
		t.Errorf("Unexpected AE titles %q -> %q", params.CallingAETitle, params.CalledAETitle)
	}
	if params.LocalMaxPDULength != 16384 {
		t.Errorf("Expected max PDU length 16384, got %d", params.LocalMaxPDULength)
	}
	if len(params.PresentationContexts) != 2 {
		t.Fatalf("Expected 2 contexts, got %d", len(params.PresentationContexts))
	}
	if params.PresentationContexts[0].ID != 1 || params.PresentationContexts[1].ID != 3 {
		t.Errorf("Expected odd context IDs 1 and 3, got %d and %d",
			params.PresentationContexts[0].ID, params.PresentationContexts[1].ID)
	}
	if params.PresentationContexts[1].ProposedRole != negotiation.RoleSCP {
		t.Errorf("Expected scp role, got %s", params.PresentationContexts[1].ProposedRole)
	}
}
