package model

import (
	"reflect"
	"testing"
)

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to ApplicationStatus
		want     bool
	}{
		{StatusPending, StatusAccepted, true},
		{StatusPending, StatusRejected, true},
		{StatusAccepted, StatusRejected, true},
		{StatusAccepted, StatusAccepted, false},
		{StatusRejected, StatusAccepted, false},
		{StatusRejected, StatusRejected, false},
		{StatusRejected, StatusPending, false},
		{StatusAccepted, StatusPending, false},
	}
	for _, c := range cases {
		if got := c.from.CanTransition(c.to); got != c.want {
			t.Errorf("%s→%s: got %v, want %v", c.from, c.to, got, c.want)
		}
	}
}

func TestComputeFinalFee(t *testing.T) {
	e := Event{Fee: 1000, Discount: 25}
	if got := e.ComputeFinalFee(); got != 750 {
		t.Errorf("expected final fee 750, got %v", got)
	}
	e = Event{Fee: 500}
	if got := e.ComputeFinalFee(); got != 500 {
		t.Errorf("expected final fee 500 with no discount, got %v", got)
	}
}

func TestMissingFields(t *testing.T) {
	p := ParticipantPayload{
		Name:          "Ayesha Khan",
		RollNumber:    "ZU-2214",
		Email:         "ayesha@zu.edu.pk",
		ContactNumber: "0300-1234567",
		Department:    "CS",
		University:    "ZABIST",
	}
	if missing := p.MissingFields(); len(missing) != 0 {
		t.Fatalf("expected complete payload, got missing %v", missing)
	}

	p.RollNumber = "   "
	p.Department = ""
	want := []string{"rollNumber", "department"}
	if got := p.MissingFields(); !reflect.DeepEqual(got, want) {
		t.Errorf("expected missing %v, got %v", want, got)
	}
}

func TestUniqueEmails(t *testing.T) {
	app := Application{Participants: []ParticipantPayload{
		{Email: "a@example.com"},
		{Email: "B@Example.com"},
		{Email: "a@example.com"},
		{Email: "  "},
		{Email: "c@example.com"},
	}}
	want := []string{"a@example.com", "b@example.com", "c@example.com"}
	if got := app.UniqueEmails(); !reflect.DeepEqual(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}
}
