package models

import (
	"testing"
	"time"
)

func TestOrder_Total(t *testing.T) {
	o := &Order{Items: []OrderItem{
		{Name: "Margherita", Quantity: 2, PriceCents: 950},
		{Name: "Cola", Quantity: 1, PriceCents: 250},
	}}

	if got := o.Total(); got != 2150 {
		t.Errorf("Expected total 2150, got %d", got)
	}
}

func TestOrder_IsStale(t *testing.T) {
	now := time.Now()
	cutoff := now.Add(-30 * time.Minute)

	tests := []struct {
		name  string
		order Order
		want  bool
	}{
		{"old pending", Order{Status: OrderStatusPending, CreatedAt: now.Add(-40 * time.Minute)}, true},
		{"fresh pending", Order{Status: OrderStatusPending, CreatedAt: now.Add(-10 * time.Minute)}, false},
		{"old confirmed", Order{Status: OrderStatusConfirmed, CreatedAt: now.Add(-40 * time.Minute)}, false},
		{"exactly at cutoff", Order{Status: OrderStatusPending, CreatedAt: cutoff}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.order.IsStale(cutoff); got != tt.want {
				t.Errorf("IsStale() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRole_Valid(t *testing.T) {
	for _, r := range []Role{RoleAdmin, RoleStaff, RoleCustomer} {
		if !r.Valid() {
			t.Errorf("Expected %s to be valid", r)
		}
	}
	if Role("root").Valid() {
		t.Error("Expected unknown role to be invalid")
	}
}
