package tenancy

import (
	"context"
	"testing"
)

func TestOrgIDRoundTrip(t *testing.T) {
	ctx := WithOrgID(context.Background(), "org-1")
	orgID, ok := OrgIDFromContext(ctx)
	if !ok || orgID != "org-1" {
		t.Fatalf("expected org-1, got %q ok=%v", orgID, ok)
	}
}

func TestOrgIDMissing(t *testing.T) {
	if _, ok := OrgIDFromContext(context.Background()); ok {
		t.Fatal("expected no org id on empty context")
	}
}

func TestOrgIDEmptyString(t *testing.T) {
	ctx := WithOrgID(context.Background(), "")
	if _, ok := OrgIDFromContext(ctx); ok {
		t.Fatal("expected empty org id to report missing")
	}
}
