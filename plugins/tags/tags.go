// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Castellan Contributors

// Package tags is a built-in plugin storing named text snippets per
// guild. It depends on ping, contributes guild-only and owner-only
// commands, reacts to guild deletion events, and provides migration
// steps for both snapshot import and peer clone.
package tags

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/samber/oops"

	"github.com/castellan/castellan/internal/command"
	"github.com/castellan/castellan/internal/event"
	"github.com/castellan/castellan/internal/hub"
	"github.com/castellan/castellan/internal/migration"
	"github.com/castellan/castellan/internal/plugin"
	"github.com/castellan/castellan/plugins/ping"
)

// CodeBadTag tags malformed tag input.
const CodeBadTag = "BAD_TAG"

// EventUpdated is published to a guild's room whenever a tag changes.
const EventUpdated = "tags.updated"

// updateEvent is the payload for EventUpdated.
type updateEvent struct {
	GuildID string `json:"guild_id"`
	Name    string `json:"name"`
	Action  string `json:"action"`
}

// Service is the capability object tags publishes. It holds the
// in-memory tag store and contributes migration steps.
type Service struct {
	hub    *hub.Hub
	logger *slog.Logger

	mu    sync.RWMutex
	store map[string]map[string]string // guild -> name -> content
}

// Get returns a tag's content.
func (s *Service) Get(guildID, name string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	content, ok := s.store[guildID][name]
	return content, ok
}

// Set stores a tag and notifies the guild's room. Dashboard clients
// need the tags.read capability to see the notification.
func (s *Service) Set(guildID, name, content string) error {
	if name == "" || strings.ContainsAny(name, " \t\n") {
		return oops.Code(CodeBadTag).With("name", name).Errorf("tag names must be non-empty and contain no whitespace")
	}
	s.mu.Lock()
	if s.store[guildID] == nil {
		s.store[guildID] = make(map[string]string)
	}
	s.store[guildID][name] = content
	s.mu.Unlock()

	s.hub.PublishGuild(guildID, EventUpdated,
		updateEvent{GuildID: guildID, Name: name, Action: "set"},
		hub.WithRequiredCapability("tags.read"))
	return nil
}

// Names returns a guild's tag names, sorted.
func (s *Service) Names(guildID string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.store[guildID]))
	for name := range s.store[guildID] {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// PurgeGuild drops every tag for a guild and returns how many were
// removed.
func (s *Service) PurgeGuild(guildID string) int {
	s.mu.Lock()
	n := len(s.store[guildID])
	delete(s.store, guildID)
	s.mu.Unlock()

	if n > 0 {
		s.hub.PublishGuild(guildID, EventUpdated,
			updateEvent{GuildID: guildID, Action: "purge"},
			hub.WithRequiredCapability("tags.read"))
	}
	return n
}

// Export returns every stored tag as generic records, the shape peer
// clone jobs fetch.
func (s *Service) Export() []map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var records []map[string]any
	for guildID, byName := range s.store {
		for name, content := range byName {
			records = append(records, map[string]any{
				"guild_id": guildID,
				"name":     name,
				"content":  content,
			})
		}
	}
	return records
}

// MigrationSteps implements migration.StepProvider.
func (s *Service) MigrationSteps(mode migration.Mode, src migration.SourceSet) ([]migration.Step, error) {
	switch mode {
	case migration.ModeImport:
		if src.Snapshot == nil {
			return nil, oops.Errorf("import mode requires a snapshot")
		}
		return []migration.Step{&importStep{svc: s, records: src.Snapshot.Section("tags")}}, nil
	case migration.ModeClone:
		if src.Peer == nil {
			return nil, oops.Errorf("clone mode requires a peer")
		}
		return []migration.Step{&cloneStep{svc: s, peer: src.Peer}}, nil
	default:
		return nil, oops.With("mode", string(mode)).Errorf("unknown migration mode")
	}
}

// ingest stores one generic record, validating shape. Shared by both
// migration step kinds.
func (s *Service) ingest(record map[string]any) error {
	guildID, _ := record["guild_id"].(string)
	name, _ := record["name"].(string)
	content, _ := record["content"].(string)
	if guildID == "" {
		return oops.Code(CodeBadTag).Errorf("record missing guild_id")
	}
	return s.Set(guildID, name, content)
}

// importStep replays the tags section of a legacy snapshot.
type importStep struct {
	svc     *Service
	records []map[string]any
}

func (st *importStep) ID() string    { return "tags.import" }
func (st *importStep) Label() string { return "Import tags from snapshot" }

func (st *importStep) Run(ctx context.Context, report *migration.StepReport) error {
	total := len(st.records)
	for i, record := range st.records {
		if err := ctx.Err(); err != nil {
			return oops.Wrap(err)
		}
		report.Record(i+1, total)
		if err := st.svc.ingest(record); err != nil {
			report.Skip(recordKey(record, i), err)
			continue
		}
		report.Imported()
	}
	report.Detail("tags_records", total)
	return nil
}

// cloneStep pulls live tags from a peer instance. The fetch retries on
// transient failure; a final fetch error is structural since nothing
// can be cloned without it.
type cloneStep struct {
	svc  *Service
	peer migration.Peer
}

func (st *cloneStep) ID() string    { return "tags.clone" }
func (st *cloneStep) Label() string { return "Clone tags from peer" }

func (st *cloneStep) Run(ctx context.Context, report *migration.StepReport) error {
	var records []map[string]any
	err := migration.RetryTransient(ctx, func(ctx context.Context) error {
		fetched, fetchErr := st.peer.Fetch(ctx, "tags")
		if fetchErr != nil {
			return fetchErr
		}
		records = fetched
		return nil
	})
	if err != nil {
		return oops.Wrap(err)
	}

	total := len(records)
	for i, record := range records {
		report.Record(i+1, total)
		if err := st.svc.ingest(record); err != nil {
			report.Skip(recordKey(record, i), err)
			continue
		}
		report.Imported()
	}
	report.Detail("tags_records", total)
	return nil
}

func recordKey(record map[string]any, index int) string {
	guildID, _ := record["guild_id"].(string)
	name, _ := record["name"].(string)
	if guildID == "" && name == "" {
		return fmt.Sprintf("tags[%d]", index)
	}
	return fmt.Sprintf("tags/%s/%s", guildID, name)
}

// Manifest builds the tags plugin manifest.
func Manifest(h *hub.Hub) *plugin.Manifest {
	var svc *Service

	return &plugin.Manifest{
		Name:    "tags",
		Version: "1.2.0",
		Dependencies: []plugin.Dependency{
			{Name: "ping", Constraint: ">= 1.0.0"},
		},
		Commands: []command.Route{
			{
				Command:    "tag",
				Subcommand: "get",
				Help:       "Show a tag's content",
				Usage:      "tag get <name>",
				Handler: func(ctx context.Context, exec *command.Execution) error {
					name := strings.TrimSpace(exec.Invocation.Args)
					if name == "" {
						return exec.Reply(ctx, "usage: tag get <name>")
					}
					content, ok := svc.Get(exec.Invocation.GuildID, name)
					if !ok {
						return exec.Reply(ctx, fmt.Sprintf("no tag named %q", name))
					}
					return exec.Reply(ctx, content)
				},
			},
			{
				Command:    "tag",
				Subcommand: "set",
				Help:       "Create or replace a tag",
				Usage:      "tag set <name> <content...>",
				Handler: func(ctx context.Context, exec *command.Execution) error {
					name, content, ok := strings.Cut(strings.TrimSpace(exec.Invocation.Args), " ")
					if !ok || content == "" {
						return exec.Reply(ctx, "usage: tag set <name> <content...>")
					}
					if err := svc.Set(exec.Invocation.GuildID, name, content); err != nil {
						return err
					}
					return exec.Reply(ctx, fmt.Sprintf("tag %q saved", name))
				},
			},
			{
				Command:    "tag",
				Subcommand: "purge",
				OwnerOnly:  true,
				Help:       "Delete every tag in this guild",
				Usage:      "tag purge",
				Handler: func(ctx context.Context, exec *command.Execution) error {
					n := svc.PurgeGuild(exec.Invocation.GuildID)
					return exec.Reply(ctx, fmt.Sprintf("purged %d tags", n))
				},
			},
		},
		Events: []event.Registration{
			{
				Type: "guild_delete",
				Handler: func(_ context.Context, args any) error {
					guildID, ok := args.(string)
					if !ok {
						return oops.With("args", fmt.Sprintf("%T", args)).Errorf("guild_delete payload must be a guild id")
					}
					n := svc.PurgeGuild(guildID)
					svc.logger.Info("guild tags purged", "guild_id", guildID, "count", n)
					return nil
				},
			},
		},
		Load: func(_ context.Context, pctx *plugin.Context) (any, error) {
			dep, ok := pctx.Dependency("ping")
			if !ok {
				return nil, oops.Errorf("ping capability not provided")
			}
			pingSvc, ok := dep.(*ping.Service)
			if !ok {
				return nil, oops.With("type", fmt.Sprintf("%T", dep)).Errorf("unexpected ping capability type")
			}
			svc = &Service{
				hub:    h,
				logger: pctx.Logger(),
				store:  make(map[string]map[string]string),
			}
			pctx.Logger().Info("tags ready", "host_uptime", pingSvc.Uptime().String())
			return svc, nil
		},
		Unload: func(_ context.Context, logger *slog.Logger) error {
			svc.mu.Lock()
			guilds := len(svc.store)
			svc.store = nil
			svc.mu.Unlock()
			logger.Info("tags stopped", "guilds", guilds)
			return nil
		},
	}
}
