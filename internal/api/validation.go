package api

import (
	"fmt"
	"net/url"

	"github.com/t77yq/agent-scheduler/internal/model"
)

// Input validation happens here, at the API boundary; the scheduling core
// never sees a request that fails these checks. A cron expression must parse
// with the same resolver the scheduler uses.

var allowedMethods = map[string]bool{
	"GET":    true,
	"POST":   true,
	"PUT":    true,
	"DELETE": true,
}

func (s *Server) validateCreate(req model.CreateScheduleRequest) []string {
	var problems []string

	if req.Name == "" || len(req.Name) > 255 {
		problems = append(problems, "name must be 1-255 characters")
	}
	if _, err := s.resolver.Parse(req.CronExpression); err != nil {
		problems = append(problems, "invalid cron expression")
	}
	if req.AgentID == "" || len(req.AgentID) > 255 {
		problems = append(problems, "agentId must be 1-255 characters")
	}
	problems = append(problems, validateAgentURL(req.AgentURL)...)
	if req.HTTPMethod != "" && !allowedMethods[req.HTTPMethod] {
		problems = append(problems, "httpMethod must be one of GET, POST, PUT, DELETE")
	}
	if req.RetryPolicy != nil {
		problems = append(problems, validateRetryPolicy(*req.RetryPolicy)...)
	}
	return problems
}

func (s *Server) validateUpdate(req model.UpdateScheduleRequest) []string {
	var problems []string

	if req.Name != nil && (*req.Name == "" || len(*req.Name) > 255) {
		problems = append(problems, "name must be 1-255 characters")
	}
	if req.CronExpression != nil {
		if _, err := s.resolver.Parse(*req.CronExpression); err != nil {
			problems = append(problems, "invalid cron expression")
		}
	}
	if req.AgentID != nil && (*req.AgentID == "" || len(*req.AgentID) > 255) {
		problems = append(problems, "agentId must be 1-255 characters")
	}
	if req.AgentURL != nil {
		problems = append(problems, validateAgentURL(*req.AgentURL)...)
	}
	if req.HTTPMethod != nil && !allowedMethods[*req.HTTPMethod] {
		problems = append(problems, "httpMethod must be one of GET, POST, PUT, DELETE")
	}
	if req.RetryPolicy != nil {
		problems = append(problems, validateRetryPolicy(*req.RetryPolicy)...)
	}
	return problems
}

func validateAgentURL(raw string) []string {
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return []string{"agentUrl must be an absolute http(s) URL"}
	}
	return nil
}

func validateRetryPolicy(policy model.RetryPolicy) []string {
	var problems []string
	if policy.MaxAttempts < 0 || policy.MaxAttempts > 10 {
		problems = append(problems, "retryPolicy.maxAttempts must be 0-10")
	}
	if policy.BackoffMultiplier < 1 || policy.BackoffMultiplier > 10 {
		problems = append(problems, "retryPolicy.backoffMultiplier must be 1-10")
	}
	if policy.InitialDelayMs < 100 {
		problems = append(problems, fmt.Sprintf("retryPolicy.initialDelayMs must be >= 100, got %d", policy.InitialDelayMs))
	}
	if policy.MaxDelayMs < 1000 {
		problems = append(problems, fmt.Sprintf("retryPolicy.maxDelayMs must be >= 1000, got %d", policy.MaxDelayMs))
	}
	return problems
}
