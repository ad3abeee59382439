package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"spectator-recorder/internal/recording"
)

func newInspectCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <snapshot.json>",
		Short: "Summarize a finalization snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			snap, err := recording.ReadSnapshot(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderSnapshot(snap))
			return nil
		},
	}
}

func renderSnapshot(s *recording.Snapshot) string {
	var finalChunk, finalKeyFrame uint32
	if s.Metadata != nil {
		finalChunk = s.Metadata.FinalChunkID()
		finalKeyFrame = s.Metadata.FinalKeyFrameID()
	}

	summary := [][]string{
		{"Session", s.SessionID},
		{"Platform", s.Endpoint.PlatformID},
		{"Server", s.Endpoint.BaseURL},
		{"Protocol", s.ProtocolVersion},
		{"Storage", s.Storage},
		{"Completed", s.CompletedAt.Format(time.RFC3339)},
	}
	if s.RunID != "" {
		summary = append([][]string{{"Run", s.RunID}}, summary...)
	}

	ids := [][]string{
		idRow("chunks", s.Chunks, finalChunk),
		idRow("keyframes", s.KeyFrames, finalKeyFrame),
	}

	return renderTable([]string{"Field", "Value"}, summary, nil) + "\n" +
		renderTable([]string{"Kind", "Stored", "Final", "Ids", "Missing"}, ids,
			[]columnAlignment{alignLeft, alignRight, alignRight, alignLeft, alignLeft})
}

func idRow(kind string, ids []uint32, final uint32) []string {
	finalText := "unknown"
	missing := "-"
	if final > 0 {
		finalText = strconv.FormatUint(uint64(final), 10)
		if gaps := missingIDs(ids, final); len(gaps) > 0 {
			missing = compressRanges(gaps)
		}
	}
	return []string{kind, strconv.Itoa(len(ids)), finalText, compressRanges(ids), missing}
}

// missingIDs returns the ids in [1, final] absent from sorted.
func missingIDs(sorted []uint32, final uint32) []uint32 {
	var out []uint32
	i := 0
	for id := uint32(1); id <= final; id++ {
		for i < len(sorted) && sorted[i] < id {
			i++
		}
		if i < len(sorted) && sorted[i] == id {
			continue
		}
		out = append(out, id)
	}
	return out
}

// compressRanges renders ascending ids as "1-3, 5, 7-9".
func compressRanges(sorted []uint32) string {
	if len(sorted) == 0 {
		return "-"
	}
	var parts []string
	start, prev := sorted[0], sorted[0]
	flush := func() {
		if start == prev {
			parts = append(parts, strconv.FormatUint(uint64(start), 10))
			return
		}
		parts = append(parts, fmt.Sprintf("%d-%d", start, prev))
	}
	for _, id := range sorted[1:] {
		if id == prev+1 {
			prev = id
			continue
		}
		flush()
		start, prev = id, id
	}
	flush()
	return strings.Join(parts, ", ")
}
