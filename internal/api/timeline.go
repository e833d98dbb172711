package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/choiros/choiros/internal/core"
)

type runTimelineResponse struct {
	Objective          string         `json:"objective"`
	Status             core.RunStatus `json:"status"`
	ConductorDecisions []core.Event   `json:"conductor_decisions"`
	AgentObjectives    []core.Event   `json:"agent_objectives"`
	AgentPlanning      []core.Event   `json:"agent_planning"`
	AgentResults       []core.Event   `json:"agent_results"`
	LLMCalls           []core.Event   `json:"llm_calls"`
}

// handleRunTimeline implements §4.9's run_timeline observability query:
// GET run_timeline{run_id, since_seq?, category?, required_milestones?}.
// Results are categorized by topic prefix into the five buckets §4.9
// names; required_milestones names topics that must appear somewhere in
// the queried window or the whole request fails with 422.
func (s *Server) handleRunTimeline(c *gin.Context) {
	runID := c.Query("run_id")
	if runID == "" {
		writeError(c, &ScopeMismatchError{Detail: "run_id is required"})
		return
	}

	rc, ok := s.app.LookupRun(runID)
	if !ok {
		writeError(c, errRunNotFound)
		return
	}

	var sinceSeq uint64
	if raw := c.Query("since_seq"); raw != "" {
		v, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			writeError(c, &ScopeMismatchError{Detail: "since_seq must be a non-negative integer"})
			return
		}
		sinceSeq = v
	}

	events, err := s.app.EventStore().Query(c.Request.Context(), "", &rc.Scope, sinceSeq, 0)
	if err != nil {
		writeError(c, err)
		return
	}

	category := c.Query("category")
	if category != "" {
		filtered := events[:0:0]
		for _, e := range events {
			if topicCategory(e.Topic) == category {
				filtered = append(filtered, e)
			}
		}
		events = filtered
	}

	if raw := c.Query("required_milestones"); raw != "" {
		required := strings.Split(raw, ",")
		seen := make(map[string]bool, len(events))
		for _, e := range events {
			seen[e.Topic] = true
		}
		var missing []string
		for _, m := range required {
			m = strings.TrimSpace(m)
			if m == "" {
				continue
			}
			if !seen[m] {
				missing = append(missing, m)
			}
		}
		if len(missing) > 0 {
			writeError(c, &MissingMilestoneError{Missing: missing})
			return
		}
	}

	resp := runTimelineResponse{Objective: rc.Conductor.Objective(), Status: rc.Conductor.Status()}
	for _, e := range events {
		switch topicCategory(e.Topic) {
		case "conductor_decisions":
			resp.ConductorDecisions = append(resp.ConductorDecisions, e)
		case "agent_objectives":
			resp.AgentObjectives = append(resp.AgentObjectives, e)
		case "agent_planning":
			resp.AgentPlanning = append(resp.AgentPlanning, e)
		case "agent_results":
			resp.AgentResults = append(resp.AgentResults, e)
		case "llm_calls":
			resp.LLMCalls = append(resp.LLMCalls, e)
		}
	}

	c.JSON(http.StatusOK, resp)
}

// topicCategory buckets a dotted event topic into one of run_timeline's
// five observability categories (§4.9). Topics outside these families
// (subscriber.* bookkeeping, writer.run.*) are not categorized and are
// only visible through the raw category=writer.run filter.
func topicCategory(topic string) string {
	switch {
	case topic == core.TopicConductorDecision:
		return "conductor_decisions"
	case topic == core.TopicWorkerTaskStarted:
		return "agent_objectives"
	case topic == core.TopicWorkerTaskProgress:
		return "agent_planning"
	case topic == core.TopicWorkerTaskCompleted || topic == core.TopicWorkerTaskFailed || topic == core.TopicWorkerTaskBlocked:
		return "agent_results"
	case strings.HasPrefix(topic, "llm.call."):
		return "llm_calls"
	default:
		return ""
	}
}
