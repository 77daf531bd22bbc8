package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Prompt template names, matching the pipeline modules.
const (
	PromptIntentDetection       = "intent_detection"
	PromptServiceIdentification = "service_identification"
	PromptMainResponse          = "main_response"
	PromptServiceNormalization  = "service_normalization"
)

// Prompts holds the system prompt templates from prompts.yml and reloads
// them when the file changes, so prompt tuning needs no restart.
type Prompts struct {
	path string
	log  *zap.Logger

	mu     sync.RWMutex
	byName map[string]string
}

// LoadPrompts reads prompts.yml. Every pipeline module must have a template.
func LoadPrompts(path string, log *zap.Logger) (*Prompts, error) {
	p := &Prompts{path: path, log: log}
	if err := p.reload(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Prompts) reload() error {
	data, err := os.ReadFile(p.path)
	if err != nil {
		return fmt.Errorf("read prompts: %w", err)
	}
	byName := make(map[string]string)
	if err := yaml.Unmarshal(data, &byName); err != nil {
		return fmt.Errorf("parse prompts: %w", err)
	}
	for _, name := range []string{
		PromptIntentDetection,
		PromptServiceIdentification,
		PromptMainResponse,
		PromptServiceNormalization,
	} {
		if byName[name] == "" {
			return fmt.Errorf("prompts: missing template %q", name)
		}
	}
	p.mu.Lock()
	p.byName = byName
	p.mu.Unlock()
	return nil
}

// Get returns the template for a pipeline module, or "" when unknown.
func (p *Prompts) Get(name string) string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.byName[name]
}

// Watch reloads templates whenever prompts.yml is rewritten. Blocks until
// the context is cancelled. Editors replace files rather than write them in
// place, so the watch is on the directory and filtered by name.
func (p *Prompts) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("prompts watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(p.path)); err != nil {
		return fmt.Errorf("prompts watcher: %w", err)
	}

	target := filepath.Base(p.path)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(ev.Name) != target {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			if err := p.reload(); err != nil {
				p.log.Warn("prompt reload failed", zap.Error(err))
				continue
			}
			p.log.Info("prompts reloaded", zap.String("path", p.path))
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			p.log.Warn("prompts watcher error", zap.Error(err))
		}
	}
}
