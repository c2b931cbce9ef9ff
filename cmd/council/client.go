package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuemby/council/pkg/bus"
	"github.com/cuemby/council/pkg/types"
	"github.com/cuemby/council/pkg/workerclient"
	"github.com/spf13/cobra"
)

var clientCmd = &cobra.Command{
	Use:   "client",
	Short: "Reference worker client for exercising a running coordinator",
}

func init() {
	clientCmd.PersistentFlags().String("bus", "memory", "Message bus kind: memory or tcp")
	clientCmd.PersistentFlags().String("addr", "127.0.0.1:7420", "Bus broker address, kind=tcp only")
	clientCmd.PersistentFlags().String("subject-prefix", "council", "Subject prefix, must match the coordinator")
	clientCmd.PersistentFlags().String("reply-channel", "", "This worker's reply channel (required)")
	_ = clientCmd.MarkPersistentFlagRequired("reply-channel")

	clientCmd.AddCommand(clientWatchCmd)
	clientCmd.AddCommand(clientSubmitCmd)
}

func dialClientBus(cmd *cobra.Command) (bus.MessageBus, error) {
	kind, _ := cmd.Flags().GetString("bus")
	addr, _ := cmd.Flags().GetString("addr")
	switch kind {
	case "tcp":
		return bus.DialTCPBus(addr)
	case "memory", "":
		return nil, fmt.Errorf("client: bus=memory has no running coordinator to dial; use bus=tcp")
	default:
		return nil, fmt.Errorf("client: unknown bus kind %q", kind)
	}
}

// printingHandler logs every notification it receives as a JSON line.
type printingHandler struct {
	replyChannel types.ReplyChannel
}

func (h *printingHandler) OnContinue(changeSetID types.Id) {
	h.emit("continue", changeSetID, types.Id{}, "")
}

func (h *printingHandler) OnProcessValue(changeSetID, nodeID types.Id) {
	h.emit("process_value", changeSetID, nodeID, "")
}

func (h *printingHandler) OnValueAvailable(changeSetID, nodeID types.Id) {
	h.emit("value_available", changeSetID, nodeID, "")
}

func (h *printingHandler) OnDependencyFailed(changeSetID, nodeID types.Id, reason string) {
	h.emit("dependency_failed", changeSetID, nodeID, reason)
}

func (h *printingHandler) emit(kind string, changeSetID, nodeID types.Id, reason string) {
	line, _ := json.Marshal(map[string]string{
		"kind":          kind,
		"reply_channel": string(h.replyChannel),
		"change_set_id": changeSetID.String(),
		"node_id":       nodeID.String(),
		"reason":        reason,
	})
	fmt.Println(string(line))
}

var clientWatchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Subscribe to a reply channel and print every notification received",
	RunE: func(cmd *cobra.Command, args []string) error {
		replyChannel, _ := cmd.Flags().GetString("reply-channel")
		prefix, _ := cmd.Flags().GetString("subject-prefix")

		messageBus, err := dialClientBus(cmd)
		if err != nil {
			return err
		}
		defer messageBus.Close()

		handler := &printingHandler{replyChannel: types.ReplyChannel(replyChannel)}
		wc := workerclient.New(messageBus, workerclient.Config{
			ReplyChannel:  types.ReplyChannel(replyChannel),
			SubjectPrefix: prefix,
		}, handler)

		if err := wc.Start(context.Background()); err != nil {
			return fmt.Errorf("start worker client: %w", err)
		}
		defer wc.Stop()

		fmt.Printf("subscribed to reply channel %q, watching for notifications (Ctrl+C to stop)\n", replyChannel)

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		<-sigCh
		return nil
	},
}

var clientSubmitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Submit a dependency graph for a change set and watch for notifications",
	Long: `Submit reads a JSON object mapping node IDs to their dependency
node IDs from --graph-file, e.g.:

  {"4b1...": ["9fa...", "2c0..."], "9fa...": []}

and submits it under --change-set-id (a fresh one is generated if
omitted), then prints notifications for --watch-seconds before
exiting.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		replyChannel, _ := cmd.Flags().GetString("reply-channel")
		prefix, _ := cmd.Flags().GetString("subject-prefix")
		graphFile, _ := cmd.Flags().GetString("graph-file")
		changeSetFlag, _ := cmd.Flags().GetString("change-set-id")
		watchSeconds, _ := cmd.Flags().GetInt("watch-seconds")

		graph, err := readGraphFile(graphFile)
		if err != nil {
			return err
		}

		changeSetID := types.NewID()
		if changeSetFlag != "" {
			changeSetID, err = types.ParseID(changeSetFlag)
			if err != nil {
				return fmt.Errorf("parse --change-set-id: %w", err)
			}
		}

		messageBus, err := dialClientBus(cmd)
		if err != nil {
			return err
		}
		defer messageBus.Close()

		handler := &printingHandler{replyChannel: types.ReplyChannel(replyChannel)}
		wc := workerclient.New(messageBus, workerclient.Config{
			ReplyChannel:  types.ReplyChannel(replyChannel),
			SubjectPrefix: prefix,
		}, handler)

		if err := wc.Start(context.Background()); err != nil {
			return fmt.Errorf("start worker client: %w", err)
		}
		defer wc.Stop()

		if err := wc.SubmitGraph(context.Background(), changeSetID, graph); err != nil {
			return fmt.Errorf("submit graph: %w", err)
		}
		fmt.Printf("submitted change set %s (%d nodes)\n", changeSetID, len(graph))

		time.Sleep(time.Duration(watchSeconds) * time.Second)
		return nil
	},
}

func init() {
	clientSubmitCmd.Flags().String("graph-file", "", "Path to a JSON file of node ID -> dependency node IDs (required)")
	clientSubmitCmd.Flags().String("change-set-id", "", "Change set ID to submit under (a fresh one is generated if omitted)")
	clientSubmitCmd.Flags().Int("watch-seconds", 5, "How long to watch for notifications after submitting")
	_ = clientSubmitCmd.MarkFlagRequired("graph-file")
}

func readGraphFile(path string) (types.Graph, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read graph file: %w", err)
	}
	var raw map[string][]string
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse graph file: %w", err)
	}
	graph := make(types.Graph, len(raw))
	for nodeStr, depStrs := range raw {
		nodeID, err := types.ParseID(nodeStr)
		if err != nil {
			return nil, fmt.Errorf("parse node id %q: %w", nodeStr, err)
		}
		deps := make([]types.Id, 0, len(depStrs))
		for _, depStr := range depStrs {
			depID, err := types.ParseID(depStr)
			if err != nil {
				return nil, fmt.Errorf("parse dependency id %q: %w", depStr, err)
			}
			deps = append(deps, depID)
		}
		graph[nodeID] = deps
	}
	return graph, nil
}
