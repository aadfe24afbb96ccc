// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Castellan Contributors

//go:build integration

package host_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/castellan/castellan/internal/command"
	"github.com/castellan/castellan/internal/config"
	"github.com/castellan/castellan/internal/host"
	"github.com/castellan/castellan/internal/hub"
	"github.com/castellan/castellan/internal/hub/ws"
	"github.com/castellan/castellan/internal/migration"
	"github.com/castellan/castellan/internal/plugin"
	"github.com/castellan/castellan/plugins/ping"
	"github.com/castellan/castellan/plugins/tags"
)

// recorder implements command.Responder for driving the dispatch boundary.
type recorder struct {
	replies []string
}

func (r *recorder) Reply(_ context.Context, message string) error {
	r.replies = append(r.replies, message)
	return nil
}

func builtins(h *hub.Hub) []*plugin.Manifest {
	return []*plugin.Manifest{ping.Manifest(h), tags.Manifest(h)}
}

var _ = Describe("Host", func() {
	var (
		h   *host.Host
		ctx context.Context
	)

	BeforeEach(func() {
		ctx = context.Background()
		cfg := config.Default()
		cfg.Owners = []string{"owner-1"}

		var err error
		h, err = host.New(cfg, nil, builtins)
		Expect(err).NotTo(HaveOccurred())
		Expect(h.Boot(ctx)).To(BeEmpty())
	})

	AfterEach(func() {
		h.Shutdown(ctx)
	})

	Describe("booting", func() {
		It("loads ping before tags", func() {
			Expect(h.Registry().Loaded("ping")).To(BeTrue())
			Expect(h.Registry().Loaded("tags")).To(BeTrue())
		})
	})

	Describe("command dispatch", func() {
		It("stores and retrieves a tag", func() {
			responder := &recorder{}
			outcome := h.HandleCommand(ctx, &command.Invocation{
				Command: "tag", Subcommand: "set",
				Args:     "greeting hello from ginkgo",
				CallerID: "alice", GuildID: "g1",
				Responder: responder,
			})
			Expect(outcome.Status).To(Equal(command.StatusOK))

			outcome = h.HandleCommand(ctx, &command.Invocation{
				Command: "tag", Subcommand: "get",
				Args:     "greeting",
				CallerID: "bob", GuildID: "g1",
				Responder: responder,
			})
			Expect(outcome.Status).To(Equal(command.StatusOK))
			Expect(responder.replies).To(ContainElement("hello from ginkgo"))
		})

		It("refuses owner-only commands from regular callers", func() {
			outcome := h.HandleCommand(ctx, &command.Invocation{
				Command: "tag", Subcommand: "purge",
				CallerID: "mallory", GuildID: "g1",
				Responder: &recorder{},
			})
			Expect(outcome.Status).To(Equal(command.StatusUnauthorized))
			Expect(outcome.Message).NotTo(BeEmpty())
		})
	})

	Describe("event routing", func() {
		It("purges a guild's tags on guild_delete", func() {
			responder := &recorder{}
			h.HandleCommand(ctx, &command.Invocation{
				Command: "tag", Subcommand: "set",
				Args:     "doomed gone soon",
				CallerID: "alice", GuildID: "g-del",
				Responder: responder,
			})

			h.HandleEvent(ctx, "guild_delete", "g-del")

			outcome := h.HandleCommand(ctx, &command.Invocation{
				Command: "tag", Subcommand: "get",
				Args:     "doomed",
				CallerID: "alice", GuildID: "g-del",
				Responder: responder,
			})
			Expect(outcome.Status).To(Equal(command.StatusOK))
			Expect(responder.replies[len(responder.replies)-1]).To(ContainSubstring("no tag"))
		})
	})

	Describe("real-time fan-out", func() {
		var (
			server *httptest.Server
			dial   func(grants string) *websocket.Conn
		)

		BeforeEach(func() {
			wsServer := ws.NewServer(h.Hub(), nil)
			server = httptest.NewServer(wsServer.Handler())
			DeferCleanup(server.Close)

			dial = func(grants string) *websocket.Conn {
				url := "ws" + strings.TrimPrefix(server.URL, "http")
				header := http.Header{}
				if grants != "" {
					header.Set("X-Castellan-Capabilities", grants)
				}
				sock, resp, err := websocket.DefaultDialer.Dial(url, header)
				Expect(err).NotTo(HaveOccurred())
				if resp != nil {
					resp.Body.Close()
				}
				DeferCleanup(func() { sock.Close() })
				return sock
			}
		})

		readMessage := func(sock *websocket.Conn) hub.Message {
			Expect(sock.SetReadDeadline(time.Now().Add(2 * time.Second))).To(Succeed())
			var msg hub.Message
			Expect(sock.ReadJSON(&msg)).To(Succeed())
			return msg
		}

		It("delivers tag updates to joined clients with the capability", func() {
			sock := dial("tags.*")
			Expect(sock.WriteJSON(map[string]string{"op": "join", "guild_id": "g1"})).To(Succeed())
			Eventually(func() int { return h.Hub().RoomSize("g1") }).Should(Equal(1))

			outcome := h.HandleCommand(ctx, &command.Invocation{
				Command: "tag", Subcommand: "set",
				Args:     "greeting hello",
				CallerID: "alice", GuildID: "g1",
				Responder: &recorder{},
			})
			Expect(outcome.Status).To(Equal(command.StatusOK))

			msg := readMessage(sock)
			Expect(msg.Event).To(Equal(tags.EventUpdated))
			Expect(msg.GuildID).To(Equal("g1"))
		})

		It("filters tag updates from clients without the capability", func() {
			sock := dial("music.*")
			Expect(sock.WriteJSON(map[string]string{"op": "join", "guild_id": "g1"})).To(Succeed())
			Eventually(func() int { return h.Hub().RoomSize("g1") }).Should(Equal(1))

			h.HandleCommand(ctx, &command.Invocation{
				Command: "tag", Subcommand: "set",
				Args:     "secret hidden",
				CallerID: "alice", GuildID: "g1",
				Responder: &recorder{},
			})
			h.Hub().PublishGuild("g1", "marker", nil)

			msg := readMessage(sock)
			Expect(msg.Event).To(Equal("marker"), "the filtered update must be skipped, not queued")
		})

		It("streams migration progress globally", func() {
			sock := dial("")
			Eventually(func() int { return h.Hub().Connections() }).Should(Equal(1))

			snap := &migration.Snapshot{
				Version: 1,
				GuildID: "g1",
				Sections: map[string][]map[string]any{
					"tags": {
						{"guild_id": "g1", "name": "greeting", "content": "hello"},
					},
				},
			}
			result, err := h.RunMigration(ctx, migration.ModeImport, migration.SourceSet{Snapshot: snap})
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Success).To(BeTrue())
			Expect(result.Imported).To(Equal(1))

			var events []string
			for i := 0; i < 3; i++ {
				msg := readMessage(sock)
				events = append(events, msg.Event)
				if msg.Event == migration.EventResult {
					break
				}
			}
			Expect(events).To(ContainElement(migration.EventProgress))
			Expect(events).To(ContainElement(migration.EventResult))
		})
	})

	Describe("reload", func() {
		It("keeps commands working but resets plugin state", func() {
			responder := &recorder{}
			h.HandleCommand(ctx, &command.Invocation{
				Command: "tag", Subcommand: "set",
				Args:     "keepsake precious",
				CallerID: "alice", GuildID: "g1",
				Responder: responder,
			})

			Expect(h.Reload(ctx)).To(BeEmpty())

			outcome := h.HandleCommand(ctx, &command.Invocation{
				Command: "tag", Subcommand: "get",
				Args:     "keepsake",
				CallerID: "alice", GuildID: "g1",
				Responder: responder,
			})
			Expect(outcome.Status).To(Equal(command.StatusOK))
			// In-memory tag state does not survive a reload.
			Expect(responder.replies[len(responder.replies)-1]).To(ContainSubstring("no tag"))
		})
	})
})
