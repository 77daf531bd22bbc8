package bot

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"
	tele "gopkg.in/telebot.v3"

	"github.com/annaparis/salonbot/internal/ai"
	"github.com/annaparis/salonbot/internal/booking"
	"github.com/annaparis/salonbot/internal/store"
)

// Russian weekday names, fed into the prompts so the model can resolve
// "в пятницу" against the calendar.
var weekdays = map[time.Weekday]string{
	time.Monday:    "Понедельник",
	time.Tuesday:   "Вторник",
	time.Wednesday: "Среда",
	time.Thursday:  "Четверг",
	time.Friday:    "Пятница",
	time.Saturday:  "Суббота",
	time.Sunday:    "Воскресенье",
}

// handleText runs one client message through the full dialogue flow:
// log it, gate on intent, snapshot the schedule, generate the reply,
// execute its booking directives, answer.
func (b *Bot) handleText(c tele.Context) error {
	ctx := context.Background()
	clientID := senderID(c)
	text := c.Text()
	msgID := ai.MessageID()
	log := b.log.With(zap.String("message_id", msgID), zap.String("client_id", clientID))

	talked, err := b.db.HasDialogue(ctx, b.salon.ProjectID, clientID)
	if err != nil {
		log.Error("dialogue lookup failed", zap.Error(err))
	}
	newbie := 1
	if talked {
		newbie = 0
	}

	// History is read before the current message is logged: the prompts
	// carry it separately as current_message.
	history := b.historyString(ctx, clientID)
	if err := b.db.AppendDialogue(ctx, b.salon.ProjectID, clientID, "user", text, !talked); err != nil {
		log.Error("dialogue append failed", zap.Error(err))
	}

	now := time.Now()
	currentDate := now.Format("02.01.2006")
	dayOfWeek := weekdays[now.Weekday()]

	intent := b.pipeline.DetectIntent(ctx, msgID, currentDate, dayOfWeek, history, "", text)
	if intent.Waiting == 0 {
		// The client is mid-thought; answer when the next message lands.
		log.Info("holding reply, client still composing")
		return nil
	}

	service := b.pipeline.IdentifyService(ctx, msgID, b.salon.Services, history, text)

	available, reserved, err := b.schedule.DaySchedule(ctx, now, service.TimeFraction)
	if err != nil {
		log.Error("schedule snapshot failed", zap.Error(err))
		available, reserved = map[string][]string{}, map[string][]string{}
	}

	in := ai.ReplyInput{
		CurrentDate:     currentDate,
		DayOfWeek:       dayOfWeek,
		DialogueHistory: history,
		CurrentMessage:  text,
		AvailableSlots:  available,
		ReservedSlots:   reserved,
		RowsOfOwner:     b.engine.ClientBookingsString(ctx, clientID),
		NewbieStatus:    newbie,
	}
	reply := b.pipeline.GenerateReply(ctx, msgID, b.salon.Specialists, in)
	result := b.engine.ProcessAction(ctx, reply, clientID, msgID, "")

	// A failed directive means the reply text promises something that did
	// not happen (slot taken mid-dialogue, unknown specialist, bad date).
	// One retry with the error fed back lets the model apologize and
	// reoffer instead of confirming a booking that was never created.
	if errMsg := actionError(result); errMsg != "" {
		log.Warn("booking action failed, regenerating reply",
			zap.String("action", result.Action),
			zap.String("detail", errMsg))
		in.RecordError = errMsg
		if available, reserved, err = b.schedule.DaySchedule(ctx, now, service.TimeFraction); err == nil {
			in.AvailableSlots, in.ReservedSlots = available, reserved
		}
		reply = b.pipeline.GenerateReply(ctx, msgID, b.salon.Specialists, in)
		result = b.engine.ProcessAction(ctx, reply, clientID, msgID, "")
		if errMsg = actionError(result); errMsg != "" {
			// Still failing after the retry: send the failure itself
			// rather than a confirmation of a record that does not exist.
			reply.GptResponse = errMsg
		}
	}

	if reply.Feedback != "" {
		b.engine.SaveFeedback(ctx, reply, clientID, msgID)
	}

	answer := strings.TrimSpace(reply.GptResponse)
	if answer == "" {
		answer = ai.FallbackReplyText
	}

	if err := b.db.AppendDialogue(ctx, b.salon.ProjectID, clientID, "assistant", answer, false); err != nil {
		log.Error("dialogue append failed", zap.Error(err))
	}

	// Mirror to the external delivery channel; failures there never block
	// the Telegram answer.
	if err := b.delivery.Send(ctx, clientID, answer, reply.Pic); err != nil {
		log.Error("delivery mirror failed", zap.Error(err))
	}

	if reply.Pic != "" {
		if err := c.Send(&tele.Photo{File: tele.FromURL(reply.Pic), Caption: answer}); err == nil {
			return nil
		}
		log.Warn("photo send failed, falling back to text")
	}
	return c.Send(answer)
}

// actionError reports why a booking directive failed, empty when nothing
// went wrong or no directive was requested.
func actionError(result booking.Result) string {
	if result.Success || result.Action == "none" {
		return ""
	}
	if result.RecordError != "" {
		return result.RecordError
	}
	return result.Message
}

func (b *Bot) historyString(ctx context.Context, clientID string) string {
	entries, err := b.db.DialogueHistory(ctx, b.salon.ProjectID, clientID, historyLimit)
	if err != nil {
		b.log.Error("dialogue history read failed", zap.Error(err))
		return ""
	}
	return FormatHistory(entries)
}

// FormatHistory renders dialogue rows the way the prompts expect them.
func FormatHistory(entries []store.DialogueEntry) string {
	lines := make([]string, 0, len(entries))
	for _, e := range entries {
		who := "Клиент"
		if e.Role == "assistant" {
			who = "Ассистент"
		}
		lines = append(lines, who+": "+e.Message)
	}
	return strings.Join(lines, "\n")
}
