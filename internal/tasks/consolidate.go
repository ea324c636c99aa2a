package tasks

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/rs/xid"

	"taskboard/api/internal/store"
)

type ConsolidateReport struct {
	Tasks  int `json:"tasks"`
	Themes int `json:"themes"`
	Groups int `json:"groups"`
}

// Consolidate rewrites tasks stored in the legacy layout: themes kept as
// tasks/{id}/themes/{themeId} children become the inline ordered array, and
// an inline groups array moves into the tasks/{id}/groups collection. New
// shapes are written before old ones are removed, so a run that fails part
// way loses nothing and a rerun finishes the job without duplicating groups.
func (r *Repository) Consolidate(ctx context.Context) (ConsolidateReport, error) {
	report := ConsolidateReport{}
	snapshot, err := r.store.Read(ctx, tasksRoot)
	if err != nil {
		return report, fmt.Errorf("consolidate: %w", err)
	}
	children, err := snapshot.Children()
	if err != nil {
		return report, fmt.Errorf("consolidate: %w", err)
	}

	for _, child := range children {
		var doc taskDocument
		if err := json.Unmarshal(child.Value, &doc); err != nil {
			return report, fmt.Errorf("consolidate task %s: %w", child.Key(), err)
		}
		themes, groups, err := r.consolidateTask(ctx, child.Key(), doc)
		if err != nil {
			return report, err
		}
		if themes > 0 || groups > 0 {
			report.Tasks++
			report.Themes += themes
			report.Groups += groups
			log.Printf("tasks: consolidated task %s (themes=%d groups=%d)", child.Key(), themes, groups)
		}
	}
	return report, nil
}

func (r *Repository) consolidateTask(ctx context.Context, taskID string, doc taskDocument) (int, int, error) {
	movedThemes := 0
	if isLegacyThemes(doc.Themes) {
		themes, err := decodeThemes(doc.Themes)
		if err != nil {
			return 0, 0, fmt.Errorf("consolidate task %s themes: %w", taskID, err)
		}
		// Child rows win over the inline field on read, so until they are
		// deleted the task still reads in the old shape.
		if err := r.store.Merge(ctx, TaskPath(taskID), map[string]any{"themes": themes}); err != nil {
			return 0, 0, fmt.Errorf("consolidate task %s themes: %w", taskID, err)
		}
		if err := r.store.Delete(ctx, TaskPath(taskID)+"/themes"); err != nil {
			return 0, 0, fmt.Errorf("consolidate task %s themes: %w", taskID, err)
		}
		movedThemes = len(themes)
	}

	staged := doc.LegacyGroups
	if isLegacyGroups(doc.Groups) && !isLegacyGroups(staged) {
		// Park the inline array outside the groups path first. Child rows
		// written below would otherwise hide it from a rerun.
		if err := r.store.Merge(ctx, TaskPath(taskID), map[string]any{
			"legacyGroups": doc.Groups,
			"groups":       nil,
		}); err != nil {
			return 0, 0, fmt.Errorf("consolidate task %s groups: %w", taskID, err)
		}
		staged = doc.Groups
	}

	movedGroups := 0
	if isLegacyGroups(staged) {
		groups, err := decodeGroups(staged)
		if err != nil {
			return 0, 0, fmt.Errorf("consolidate task %s groups: %w", taskID, err)
		}
		for i, group := range groups {
			// Legacy data may hold two claims on one title; both are kept.
			record := groupRecord{
				Name:      group.Name,
				Members:   nonNilStrings(group.Members),
				Theme:     group.Theme,
				CreatedBy: group.CreatedBy,
				CreatedAt: group.CreatedAt,
			}
			path := store.Join(GroupsPath(taskID), legacyGroupKey(group.CreatedAt, i))
			if err := r.store.Write(ctx, path, record); err != nil {
				return 0, 0, fmt.Errorf("consolidate task %s groups: %w", taskID, err)
			}
		}
		if err := r.store.Merge(ctx, TaskPath(taskID), map[string]any{"legacyGroups": nil}); err != nil {
			return 0, 0, fmt.Errorf("consolidate task %s groups: %w", taskID, err)
		}
		movedGroups = len(groups)
	}
	return movedThemes, movedGroups, nil
}

// legacyGroupKey derives a stable child key in xid layout from the group's
// creation time and position, so rewriting the same group twice lands on
// the same row and keys sort before groups registered later.
func legacyGroupKey(createdAt time.Time, index int) string {
	var id xid.ID
	if !createdAt.IsZero() && createdAt.Unix() > 0 {
		binary.BigEndian.PutUint32(id[:4], uint32(createdAt.Unix()))
	}
	binary.BigEndian.PutUint32(id[8:], uint32(index))
	return id.String()
}
