package a2a

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/tjfontaine/a2a-lens/internal/core/domain"
)

// profileFromMetadata reads user_properties.a2aUserConfig.user_profile.
func profileFromMetadata(raw json.RawMessage) *domain.UserProfile {
	if len(raw) == 0 {
		return nil
	}
	var props struct {
		A2AUserConfig struct {
			UserProfile map[string]any `json:"user_profile"`
		} `json:"a2aUserConfig"`
	}
	if err := json.Unmarshal(raw, &props); err != nil {
		return nil
	}
	return buildProfile(props.A2AUserConfig.UserProfile)
}

// profileFromInstruction finds the JSON object embedded in an LLM system
// instruction that describes the user, if there is one.
func profileFromInstruction(instruction string) *domain.UserProfile {
	if !strings.Contains(instruction, "user_info") && !strings.Contains(instruction, "User Profile") {
		return nil
	}
	anchor := strings.Index(instruction, `"user_info"`)
	if anchor < 0 {
		anchor = strings.Index(instruction, `"id"`)
	}
	if anchor < 0 {
		return nil
	}
	start := strings.LastIndex(instruction[:anchor], "{")
	if start < 0 {
		return nil
	}
	end := matchingBrace(instruction, start)
	if end < 0 {
		return nil
	}
	var data map[string]any
	if err := json.Unmarshal([]byte(instruction[start:end+1]), &data); err != nil {
		return nil
	}
	return buildProfile(data)
}

// matchingBrace returns the index of the brace closing the one at start,
// or -1. Braces inside JSON strings are skipped.
func matchingBrace(s string, start int) int {
	depth := 0
	inString, escaped := false, false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// buildProfile maps a profile object, reading fields from its user_info
// member first and the object itself second.
func buildProfile(data map[string]any) *domain.UserProfile {
	if len(data) == 0 {
		return nil
	}
	info, ok := data["user_info"].(map[string]any)
	if !ok {
		info = data
	}
	get := func(keys ...string) string {
		for _, src := range []map[string]any{info, data} {
			for _, k := range keys {
				if v := scalar(src[k]); v != "" {
					return v
				}
			}
		}
		return ""
	}

	p := &domain.UserProfile{
		ID:            get("id"),
		Email:         get("email", "workEmail"),
		Name:          get("name", "displayName"),
		Country:       get("country"),
		JobGrade:      get("jobGrade", "positionGrade"),
		Company:       get("company"),
		ManagerID:     get("manager"),
		Location:      get("location"),
		Language:      get("nativePreferredLanguage"),
		JobTitle:      get("jobTitle"),
		Department:    get("department"),
		EmployeeGroup: get("employeeGroup"),
		ManagerName:   get("managerName"),
		Division:      get("division"),
		JobFamily:     get("jobFamily"),
		CostCenter:    get("costCenter"),
		BusinessUnit:  get("businessUnit"),
		ContractType:  get("contractType"),
		AuthMethod:    get("auth_method"),
	}
	if b, ok := info["authenticated"].(bool); ok {
		p.Authenticated = &b
	}
	if p.IsZero() {
		return nil
	}
	return p
}

func scalar(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		return ""
	}
}
