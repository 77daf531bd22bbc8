// Package export archives booking dialogues as text files on Google Drive
// so the salon owner can read how a booking came about.
package export

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"

	"github.com/annaparis/salonbot/internal/booking"
	"github.com/annaparis/salonbot/internal/store"
)

// DriveExporter uploads dialogue transcripts into one Drive folder.
type DriveExporter struct {
	api      *drive.Service
	folderID string
	project  string
	log      *zap.Logger
}

var _ booking.TranscriptExporter = (*DriveExporter)(nil)

// New builds the exporter from a service-account credentials file. folderID
// is the Drive folder the transcripts land in.
func New(ctx context.Context, credentialsFile, folderID, project string, log *zap.Logger) (*DriveExporter, error) {
	api, err := drive.NewService(ctx,
		option.WithCredentialsFile(credentialsFile),
		option.WithScopes(drive.DriveFileScope))
	if err != nil {
		return nil, fmt.Errorf("drive client: %w", err)
	}
	return &DriveExporter{
		api:      api,
		folderID: folderID,
		project:  project,
		log:      log.Named("export"),
	}, nil
}

// SaveTranscript renders the dialogue to text and uploads it. The file name
// carries the client, the booking date and the upload time so repeated
// bookings never overwrite each other.
func (e *DriveExporter) SaveTranscript(ctx context.Context, clientID, clientName string, info booking.TranscriptInfo, history []store.DialogueEntry) error {
	name := fmt.Sprintf("%s_%s_%s_%s.txt",
		e.project,
		sanitize(clientName),
		strings.ReplaceAll(info.Date, ".", "-"),
		time.Now().Format("20060102-150405"))

	meta := &drive.File{
		Name:     name,
		MimeType: "text/plain",
	}
	if e.folderID != "" {
		meta.Parents = []string{e.folderID}
	}

	body := renderTranscript(clientID, clientName, info, history)
	f, err := e.api.Files.Create(meta).
		Media(strings.NewReader(body)).
		Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("upload transcript: %w", err)
	}
	e.log.Info("transcript uploaded",
		zap.String("client_id", clientID),
		zap.String("file_id", f.Id),
		zap.String("name", name))
	return nil
}

func renderTranscript(clientID, clientName string, info booking.TranscriptInfo, history []store.DialogueEntry) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Клиент: %s (%s)\n", clientName, clientID)
	fmt.Fprintf(&b, "Запись: %s %s, %s, %s\n", info.Date, info.Clock, info.Specialist, info.Service)
	fmt.Fprintf(&b, "Экспортировано: %s\n\n", time.Now().Format("02.01.2006 15:04"))

	for _, entry := range history {
		who := "Клиент"
		if entry.Role == "assistant" {
			who = "Бот"
		}
		fmt.Fprintf(&b, "[%s] %s: %s\n", entry.Timestamp.Format("02.01 15:04"), who, entry.Message)
	}
	return b.String()
}

func sanitize(s string) string {
	if s == "" {
		return "client"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|', ' ':
			return '_'
		}
		return r
	}, s)
}
