package conversation

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"github.com/google/uuid"
	"google.golang.org/api/option"
)

const systemPrompt = `You are the booking assistant of a medical clinic.
You help one patient book, confirm, reschedule or cancel appointments.
The CONTEXT below is the only source of truth. Never offer a slot or an
appointment that is not listed there, and never claim availability when a
count is 0. When the patient picks one of the PRESENTED options, call
book_appointment with its option_number. SLOT_N lines under a CATEGORY are
previews, not options: to book one of them pass its work_window_id and
start_time instead. When the patient refers to one of
their appointments, pass its appointment_number. Call query_availability with
a category to present options, or without one to list the patient's
appointments. Otherwise answer briefly in the patient's language.`

const (
	fnBook       = "book_appointment"
	fnConfirm    = "confirm_appointment"
	fnReschedule = "reschedule_appointment"
	fnCancel     = "cancel_appointment"
	fnQuery      = "query_availability"
)

var (
	optionNumberSchema      = &genai.Schema{Type: genai.TypeInteger, Description: "Number of the presented option the patient chose (OPTION_N under PRESENTED_OPTIONS)."}
	appointmentNumberSchema = &genai.Schema{Type: genai.TypeInteger, Description: "Number of the patient's appointment (APPOINTMENT_N)."}
	appointmentIDSchema     = &genai.Schema{Type: genai.TypeString, Description: "ID of the patient's appointment."}
	workWindowIDSchema      = &genai.Schema{Type: genai.TypeString, Description: "WORK_WINDOW_ID of the chosen OPTION_N or SLOT_N."}
	startTimeSchema         = &genai.Schema{Type: genai.TypeString, Description: "START of the chosen slot in RFC 3339."}
)

var bookingTools = &genai.Tool{
	FunctionDeclarations: []*genai.FunctionDeclaration{
		{
			Name:        fnBook,
			Description: "Book one of the slots presented to the patient.",
			Parameters: &genai.Schema{
				Type: genai.TypeObject,
				Properties: map[string]*genai.Schema{
					"option_number":  optionNumberSchema,
					"work_window_id": workWindowIDSchema,
					"start_time":     startTimeSchema,
					"reason":         {Type: genai.TypeString, Description: "Reason for the visit."},
				},
			},
		},
		{
			Name:        fnConfirm,
			Description: "Confirm one of the patient's requested appointments.",
			Parameters: &genai.Schema{
				Type: genai.TypeObject,
				Properties: map[string]*genai.Schema{
					"appointment_number": appointmentNumberSchema,
					"appointment_id":     appointmentIDSchema,
				},
			},
		},
		{
			Name:        fnReschedule,
			Description: "Move one of the patient's appointments to a presented slot.",
			Parameters: &genai.Schema{
				Type: genai.TypeObject,
				Properties: map[string]*genai.Schema{
					"appointment_number": appointmentNumberSchema,
					"appointment_id":     appointmentIDSchema,
					"option_number":      optionNumberSchema,
					"work_window_id":     workWindowIDSchema,
					"start_time":         startTimeSchema,
				},
			},
		},
		{
			Name:        fnCancel,
			Description: "Cancel one of the patient's appointments.",
			Parameters: &genai.Schema{
				Type: genai.TypeObject,
				Properties: map[string]*genai.Schema{
					"appointment_number": appointmentNumberSchema,
					"appointment_id":     appointmentIDSchema,
				},
			},
		},
		{
			Name:        fnQuery,
			Description: "Present available slots for a category, or list the patient's appointments when no category is given.",
			Parameters: &genai.Schema{
				Type: genai.TypeObject,
				Properties: map[string]*genai.Schema{
					"category": {Type: genai.TypeString, Description: "Specialty exactly as listed in CATEGORY."},
				},
			},
		},
	},
}

// GeminiClassifier delegates intent detection to Gemini function calling.
type GeminiClassifier struct {
	client *genai.Client
	model  string
}

func NewGeminiClassifier(ctx context.Context, apiKey, model string) (*GeminiClassifier, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &GeminiClassifier{client: client, model: model}, nil
}

func (g *GeminiClassifier) Close() error {
	return g.client.Close()
}

func (g *GeminiClassifier) Classify(ctx context.Context, req Request) (Decision, error) {
	// a model per call keeps SystemInstruction private to this request
	model := g.client.GenerativeModel(g.model)
	model.SetTemperature(0.2)
	model.Tools = []*genai.Tool{bookingTools}
	model.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(systemPrompt + "\n\nCONTEXT\n" + req.Context)},
	}

	cs := model.StartChat()
	cs.History = history(req.Transcript)

	resp, err := cs.SendMessage(ctx, genai.Text(req.Utterance))
	if err != nil {
		return Decision{}, fmt.Errorf("gemini send message: %w", err)
	}
	return decisionFromResponse(resp)
}

// history converts the transcript into chat turns. Gemini requires the first
// turn to come from the user, and a bounded transcript can start mid-exchange.
func history(transcript []Message) []*genai.Content {
	for len(transcript) > 0 && transcript[0].Role == RoleAssistant {
		transcript = transcript[1:]
	}
	out := make([]*genai.Content, 0, len(transcript))
	for _, m := range transcript {
		role := "user"
		if m.Role == RoleAssistant {
			role = "model"
		}
		out = append(out, &genai.Content{Role: role, Parts: []genai.Part{genai.Text(m.Text)}})
	}
	return out
}

func decisionFromResponse(resp *genai.GenerateContentResponse) (Decision, error) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return Decision{}, errors.New("gemini returned no candidates")
	}

	var (
		text strings.Builder
		dec  Decision
	)
	for _, part := range resp.Candidates[0].Content.Parts {
		switch p := part.(type) {
		case genai.Text:
			text.WriteString(string(p))
		case genai.FunctionCall:
			if dec.Action != nil {
				continue
			}
			a, err := actionFromCall(p)
			if err != nil {
				return Decision{}, err
			}
			dec.Action = a
		}
	}
	dec.Text = strings.TrimSpace(text.String())

	if dec.Action == nil && dec.Text == "" {
		return Decision{}, errors.New("gemini returned an empty answer")
	}
	return dec, nil
}

func actionFromCall(call genai.FunctionCall) (*Action, error) {
	args := call.Args
	a := &Action{
		OptionNumber:      argInt(args, "option_number"),
		AppointmentNumber: argInt(args, "appointment_number"),
		Reason:            argString(args, "reason"),
		Category:          argString(args, "category"),
	}

	switch call.Name {
	case fnBook:
		a.Kind = ActionBook
	case fnConfirm:
		a.Kind = ActionConfirm
	case fnReschedule:
		a.Kind = ActionReschedule
	case fnCancel:
		a.Kind = ActionCancel
	case fnQuery:
		a.Kind = ActionQuery
	default:
		return nil, fmt.Errorf("gemini called unknown function %q", call.Name)
	}

	var err error
	if a.AppointmentID, err = argUUID(args, "appointment_id"); err != nil {
		return nil, err
	}
	if a.WorkWindowID, err = argUUID(args, "work_window_id"); err != nil {
		return nil, err
	}
	if raw := argString(args, "start_time"); raw != "" {
		if a.Start, err = time.Parse(time.RFC3339, raw); err != nil {
			return nil, fmt.Errorf("gemini start_time %q: %w", raw, err)
		}
	}
	return a, nil
}

func argString(args map[string]any, key string) string {
	v, _ := args[key].(string)
	return strings.TrimSpace(v)
}

// argInt accepts JSON numbers and numeric strings.
func argInt(args map[string]any, key string) int {
	switch v := args[key].(type) {
	case float64:
		return int(math.Round(v))
	case int:
		return v
	case int64:
		return int(v)
	case string:
		n, _ := strconv.Atoi(strings.TrimSpace(v))
		return n
	}
	return 0
}

func argUUID(args map[string]any, key string) (uuid.UUID, error) {
	raw := argString(args, key)
	if raw == "" {
		return uuid.Nil, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("gemini %s %q: %w", key, raw, err)
	}
	return id, nil
}
