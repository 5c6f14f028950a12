package conversation

import (
	"testing"
	"time"

	"github.com/google/generative-ai-go/genai"
	"github.com/google/uuid"
)

func response(parts ...genai.Part) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{Content: &genai.Content{Role: "model", Parts: parts}}},
	}
}

func TestDecisionFromResponse_Text(t *testing.T) {
	dec, err := decisionFromResponse(response(genai.Text("Hello, "), genai.Text("how can I help? ")))
	if err != nil {
		t.Fatalf("decision: %v", err)
	}
	if dec.Action != nil || dec.Text != "Hello, how can I help?" {
		t.Fatalf("unexpected decision %+v", dec)
	}
}

func TestDecisionFromResponse_FunctionCalls(t *testing.T) {
	window := uuid.New()
	appt := uuid.New()

	tests := []struct {
		name string
		call genai.FunctionCall
		want Action
	}{
		{
			name: "book by option",
			call: genai.FunctionCall{Name: fnBook, Args: map[string]any{"option_number": float64(2), "reason": " checkup "}},
			want: Action{Kind: ActionBook, OptionNumber: 2, Reason: "checkup"},
		},
		{
			name: "book by window and start",
			call: genai.FunctionCall{Name: fnBook, Args: map[string]any{
				"work_window_id": window.String(),
				"start_time":     "2026-03-02T08:30:00Z",
			}},
			want: Action{Kind: ActionBook, WorkWindowID: window, Start: time.Date(2026, 3, 2, 8, 30, 0, 0, time.UTC)},
		},
		{
			name: "confirm by id",
			call: genai.FunctionCall{Name: fnConfirm, Args: map[string]any{"appointment_id": appt.String()}},
			want: Action{Kind: ActionConfirm, AppointmentID: appt},
		},
		{
			name: "reschedule numeric strings",
			call: genai.FunctionCall{Name: fnReschedule, Args: map[string]any{"appointment_number": "1", "option_number": "3"}},
			want: Action{Kind: ActionReschedule, AppointmentNumber: 1, OptionNumber: 3},
		},
		{
			name: "cancel",
			call: genai.FunctionCall{Name: fnCancel, Args: map[string]any{"appointment_number": float64(1)}},
			want: Action{Kind: ActionCancel, AppointmentNumber: 1},
		},
		{
			name: "query",
			call: genai.FunctionCall{Name: fnQuery, Args: map[string]any{"category": "Cardiology"}},
			want: Action{Kind: ActionQuery, Category: "Cardiology"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dec, err := decisionFromResponse(response(tt.call))
			if err != nil {
				t.Fatalf("decision: %v", err)
			}
			if dec.Action == nil {
				t.Fatal("expected an action")
			}
			got := *dec.Action
			if !got.Start.Equal(tt.want.Start) {
				t.Fatalf("start: got %s, want %s", got.Start, tt.want.Start)
			}
			got.Start, tt.want.Start = time.Time{}, time.Time{}
			if got != tt.want {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestDecisionFromResponse_FirstCallWins(t *testing.T) {
	dec, err := decisionFromResponse(response(
		genai.Text("Booking it now."),
		genai.FunctionCall{Name: fnBook, Args: map[string]any{"option_number": float64(1)}},
		genai.FunctionCall{Name: fnCancel, Args: map[string]any{}},
	))
	if err != nil {
		t.Fatalf("decision: %v", err)
	}
	if dec.Action.Kind != ActionBook || dec.Text != "Booking it now." {
		t.Fatalf("unexpected decision %+v", dec)
	}
}

func TestDecisionFromResponse_Errors(t *testing.T) {
	tests := []struct {
		name string
		resp *genai.GenerateContentResponse
	}{
		{name: "nil", resp: nil},
		{name: "no candidates", resp: &genai.GenerateContentResponse{}},
		{name: "empty", resp: response()},
		{name: "unknown function", resp: response(genai.FunctionCall{Name: "drop_tables"})},
		{name: "bad uuid", resp: response(genai.FunctionCall{Name: fnCancel, Args: map[string]any{"appointment_id": "abc"}})},
		{name: "bad start", resp: response(genai.FunctionCall{Name: fnBook, Args: map[string]any{"start_time": "tomorrow"}})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := decisionFromResponse(tt.resp); err == nil {
				t.Fatal("expected an error")
			}
		})
	}
}

func TestHistoryRoles(t *testing.T) {
	h := history([]Message{{Role: RoleUser, Text: "hi"}, {Role: RoleAssistant, Text: "hello"}})
	if len(h) != 2 || h[0].Role != "user" || h[1].Role != "model" {
		t.Fatalf("unexpected history %+v", h)
	}
}

func TestHistory_StartsWithUser(t *testing.T) {
	// an odd transcript limit drops the user half of the oldest exchange
	h := history([]Message{
		{Role: RoleAssistant, Text: "Which specialty?"},
		{Role: RoleUser, Text: "cardiology"},
		{Role: RoleAssistant, Text: "Here are 3 options"},
	})
	if len(h) != 2 || h[0].Role != "user" || h[1].Role != "model" {
		t.Fatalf("unexpected history %+v", h)
	}
	if got := h[0].Parts[0].(genai.Text); got != "cardiology" {
		t.Fatalf("expected the oldest user turn first, got %q", got)
	}

	if h := history([]Message{{Role: RoleAssistant, Text: "hello"}}); len(h) != 0 {
		t.Fatalf("expected no turns, got %+v", h)
	}
}
