package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/annaparis/salonbot/internal/config"
)

// FallbackReplyText is returned to the client when the model output cannot
// be used.
const FallbackReplyText = "Вибачте, сталася помилка. Спробуйте ще раз."

// IntentResult is the outcome of the intent detection stage. waiting=1 means
// the client is still composing and the bot should hold the reply.
type IntentResult struct {
	Waiting int `json:"waiting"`
}

// ServiceResult is the outcome of the service identification stage.
// TimeFraction counts 30-minute slots.
type ServiceResult struct {
	TimeFraction int    `json:"time_fraction"`
	ServiceName  string `json:"service_name"`
}

// Reply is the structured answer of the main response stage. Field names
// follow the JSON contract the prompts instruct the model to produce.
type Reply struct {
	GptResponse string `json:"gpt_response"`

	ActivateBooking int `json:"activate_booking"`
	RejectOrder     int `json:"reject_order"`
	ChangeOrder     int `json:"change_order"`
	DoubleBooking   int `json:"double_booking"`

	Cosmetolog      string   `json:"cosmetolog"`
	SpecialistsList []string `json:"specialists_list"`
	TimesSetUpList  []string `json:"times_set_up_list"`
	ProceduresList  []string `json:"procedures_list"`
	TimesRejectList []string `json:"times_reject_list"`

	DateOrder  string `json:"date_order"`
	TimeSetUp  string `json:"time_set_up"`
	DateReject string `json:"date_reject"`
	TimeReject string `json:"time_reject"`

	Name      string `json:"name"`
	Phone     string `json:"phone"`
	Procedure string `json:"procedure"`
	Feedback  string `json:"feedback"`
	Pic       string `json:"pic"`
}

// ReplyInput carries the conversation context fed into the main response
// stage.
type ReplyInput struct {
	CurrentDate     string
	DayOfWeek       string
	DialogueHistory string
	CurrentMessage  string
	AvailableSlots  map[string][]string
	ReservedSlots   map[string][]string
	RowsOfOwner     string
	SlotsTargetDate string
	ZipHistory      string
	RecordError     string
	NewbieStatus    int
}

// Pipeline runs the three-stage dialogue flow: intent detection, service
// identification, main response. Every stage degrades to a safe default on
// provider or parse failure so a model hiccup never breaks the dialogue.
type Pipeline struct {
	registry *Registry
	prompts  *config.Prompts
	log      *zap.Logger
}

func NewPipeline(registry *Registry, prompts *config.Prompts, log *zap.Logger) *Pipeline {
	return &Pipeline{
		registry: registry,
		prompts:  prompts,
		log:      log.Named("pipeline"),
	}
}

// MessageID tags one inbound message across all pipeline stages in the logs.
func MessageID() string {
	return uuid.NewString()[:8]
}

// DetectIntent decides whether the client message is complete or the bot
// should wait for a follow-up.
func (p *Pipeline) DetectIntent(ctx context.Context, msgID, currentDate, dayOfWeek, history, zipHistory, message string) IntentResult {
	system := p.prompts.Get(config.PromptIntentDetection)

	parts := []string{
		"current_date: " + currentDate,
		"day_of_week: " + dayOfWeek,
		"dialogue_history: " + history,
	}
	if zipHistory != "" {
		parts = append(parts, "zip_history: "+zipHistory)
	}
	parts = append(parts, "current_message: "+message)

	comp, err := p.registry.Complete(ctx, system, strings.Join(parts, "\n"), 1000)
	if err != nil {
		p.log.Error("intent detection failed", zap.String("message_id", msgID), zap.Error(err))
		return IntentResult{Waiting: 1}
	}

	var res IntentResult
	if err := decodeInto(comp.Text, &res); err != nil {
		p.log.Warn("intent response not parseable, using default",
			zap.String("message_id", msgID), zap.Error(err))
		return IntentResult{Waiting: 1}
	}
	p.log.Info("intent detected",
		zap.String("message_id", msgID),
		zap.Int("waiting", res.Waiting),
		zap.String("provider", comp.Provider))
	return res
}

// IdentifyService maps the conversation to one of the salon's services and
// its duration in slots.
func (p *Pipeline) IdentifyService(ctx context.Context, msgID string, services map[string]int, history, message string) ServiceResult {
	fallback := ServiceResult{TimeFraction: 1, ServiceName: "unknown"}

	servicesJSON, err := json.MarshalIndent(services, "", "  ")
	if err != nil {
		return fallback
	}
	system := fmt.Sprintf("%s\n\nДоступні послуги:\n%s",
		p.prompts.Get(config.PromptServiceIdentification), servicesJSON)
	user := fmt.Sprintf("dialogue_history: %s\ncurrent_message: %s", history, message)

	comp, err := p.registry.Complete(ctx, system, user, 500)
	if err != nil {
		p.log.Error("service identification failed", zap.String("message_id", msgID), zap.Error(err))
		return fallback
	}

	var res ServiceResult
	if err := decodeInto(comp.Text, &res); err != nil {
		p.log.Warn("service response not parseable, using default",
			zap.String("message_id", msgID), zap.Error(err))
		return fallback
	}
	if res.TimeFraction < 1 {
		res.TimeFraction = 1
	}
	p.log.Info("service identified",
		zap.String("message_id", msgID),
		zap.String("service", res.ServiceName),
		zap.Int("slots", res.TimeFraction))
	return res
}

// GenerateReply produces the client-facing answer plus booking directives.
func (p *Pipeline) GenerateReply(ctx context.Context, msgID string, specialists []string, in ReplyInput) *Reply {
	system := fmt.Sprintf("%s\n\nСпеціалісти: %s",
		p.prompts.Get(config.PromptMainResponse), strings.Join(specialists, ", "))

	available, _ := json.Marshal(in.AvailableSlots)
	reserved, _ := json.Marshal(in.ReservedSlots)

	parts := []string{
		"current_date: " + in.CurrentDate,
		"day_of_week: " + in.DayOfWeek,
		fmt.Sprintf("newbie_massage: %d", in.NewbieStatus),
		"dialogue_history: " + in.DialogueHistory,
		"current_message: " + in.CurrentMessage,
		"available_slots: " + string(available),
		"reserved_slots: " + string(reserved),
		"rows_of_owner: " + in.RowsOfOwner,
	}
	if in.ZipHistory != "" {
		parts = append(parts, "zip_history: "+in.ZipHistory)
	}
	if in.RecordError != "" {
		parts = append(parts, "record_error: "+in.RecordError)
	}
	if in.SlotsTargetDate != "" {
		parts = append(parts, "slots_target_date: "+in.SlotsTargetDate)
	}

	comp, err := p.registry.Complete(ctx, system, strings.Join(parts, "\n"), 2000)
	if err != nil {
		p.log.Error("main response failed", zap.String("message_id", msgID), zap.Error(err))
		return &Reply{GptResponse: FallbackReplyText}
	}

	reply, err := decodeReply(comp.Text)
	if err != nil {
		p.log.Error("main response not parseable",
			zap.String("message_id", msgID),
			zap.String("raw", truncate(comp.Text, 500)),
			zap.Error(err))
		return &Reply{GptResponse: FallbackReplyText}
	}
	p.log.Info("reply generated",
		zap.String("message_id", msgID),
		zap.String("provider", comp.Provider),
		zap.Float64("cost", comp.Cost))
	return reply
}

// NormalizeService asks the model to map a free-form service name onto one
// of the known dictionary keys. Returns "" when no match is found.
func (p *Pipeline) NormalizeService(ctx context.Context, msgID, rawService string, services map[string]int) string {
	known := make([]string, 0, len(services))
	for name := range services {
		known = append(known, name)
	}
	system := p.prompts.Get(config.PromptServiceNormalization)
	user := fmt.Sprintf("service: %s\nknown_services: %s", rawService, strings.Join(known, ", "))

	comp, err := p.registry.Complete(ctx, system, user, 200)
	if err != nil {
		p.log.Warn("service normalization failed", zap.String("message_id", msgID), zap.Error(err))
		return ""
	}

	var res struct {
		ServiceName string `json:"service_name"`
	}
	if err := decodeInto(comp.Text, &res); err != nil {
		return ""
	}
	if _, ok := services[res.ServiceName]; !ok {
		return ""
	}
	return res.ServiceName
}

// decodeReply parses the main response JSON, tolerating models that answer
// with client_response instead of gpt_response.
func decodeReply(raw string) (*Reply, error) {
	block, err := ExtractJSON(raw)
	if err != nil {
		return nil, err
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(block, &fields); err != nil {
		return nil, err
	}
	if _, ok := fields["gpt_response"]; !ok {
		if alias, ok := fields["client_response"]; ok {
			delete(fields, "client_response")
			fields["gpt_response"] = alias
		}
	}
	merged, err := json.Marshal(fields)
	if err != nil {
		return nil, err
	}

	var reply Reply
	if err := json.Unmarshal(merged, &reply); err != nil {
		return nil, err
	}
	if reply.GptResponse == "" {
		reply.GptResponse = FallbackReplyText
	}
	return &reply, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
