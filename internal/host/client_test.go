package host

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/mmeshcher/mycred-memberships/internal/model"
)

func TestGetMembershipPlans_OK(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Fatalf("method = %s, want GET", r.Method)
		}
		if r.URL.Path != "/api/membership-plans" {
			t.Fatalf("path = %s, want /api/membership-plans", r.URL.Path)
		}

		resp := []model.MembershipPlan{{ID: 7, Slug: "gold-plan", Name: "Gold"}}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}))
	defer ts.Close()

	client := NewClient(ts.URL)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	plans, code, retry, err := client.GetMembershipPlans(ctx)
	if err != nil {
		t.Fatalf("GetMembershipPlans error: %v", err)
	}
	if code != http.StatusOK {
		t.Fatalf("status code = %d, want %d", code, http.StatusOK)
	}
	if retry != 0 {
		t.Fatalf("retryAfter = %v, want 0", retry)
	}
	if len(plans) != 1 || plans[0].Slug != "gold-plan" || plans[0].ID != 7 {
		t.Fatalf("unexpected plans: %+v", plans)
	}
}

func TestGetMembershipPlans_TooManyRequests(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "5")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer ts.Close()

	client := NewClient(ts.URL)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	plans, code, retry, err := client.GetMembershipPlans(ctx)
	if err != nil {
		t.Fatalf("GetMembershipPlans error: %v", err)
	}
	if plans != nil {
		t.Fatalf("expected nil plans for 429, got %+v", plans)
	}
	if code != http.StatusTooManyRequests {
		t.Fatalf("status code = %d, want %d", code, http.StatusTooManyRequests)
	}
	if retry < 5*time.Second {
		t.Fatalf("retryAfter = %v, want at least 5s", retry)
	}
}

func TestGetMembershipPlans_ServerError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()

	_, code, _, err := NewClient(ts.URL).GetMembershipPlans(context.Background())
	if err == nil {
		t.Fatalf("expected error for 500")
	}
	if code != http.StatusInternalServerError {
		t.Fatalf("status code = %d, want %d", code, http.StatusInternalServerError)
	}
}

func TestClient_NotConfigured(t *testing.T) {
	var c *Client
	if _, _, _, err := c.GetMembershipPlans(context.Background()); err == nil {
		t.Fatalf("expected error for nil client")
	}
}

func TestCheckDependencies(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/plugins" {
			t.Fatalf("path = %s, want /api/plugins", r.URL.Path)
		}
		resp := []Plugin{
			{Slug: "mycred", Name: "myCRED", Active: true},
			{Slug: "woocommerce", Name: "WooCommerce", Active: true},
			{Slug: "woocommerce-memberships", Name: "WooCommerce Memberships", Active: false},
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer ts.Close()

	err := NewClient(ts.URL).CheckDependencies(context.Background())
	if !errors.Is(err, ErrMissingDependencies) {
		t.Fatalf("expected ErrMissingDependencies, got %v", err)
	}
	if !strings.Contains(err.Error(), "WooCommerce Memberships") {
		t.Fatalf("error must name the missing plugin: %v", err)
	}
}

func TestMissingDependencies_AllActive(t *testing.T) {
	plugins := []Plugin{
		{Slug: "mycred", Active: true},
		{Slug: "woocommerce", Active: true},
		{Slug: "woocommerce-memberships", Active: true},
	}
	if err := MissingDependencies(plugins); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := MissingDependencies(nil); !errors.Is(err, ErrMissingDependencies) {
		t.Fatalf("expected ErrMissingDependencies for empty list, got %v", err)
	}
}
