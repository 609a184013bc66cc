// Identicore - Identity Search Orchestration and Provider Resilience
// Copyright 2026 Identicore Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/identicore/identicore

package search

import (
	"regexp"
	"strings"

	"github.com/identicore/identicore/internal/models"
)

var (
	emailPattern = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)
	phonePattern = regexp.MustCompile(`^\+?[0-9]{7,15}$`)
)

// BuildQuery turns an API request into a normalized query. When the request
// does not name a type, the populated fields decide it. Normalization keeps
// cache keys stable across equivalent spellings of the same lookup.
func BuildQuery(req *models.SearchRequest) (models.SearchQuery, error) {
	qt := models.QueryType(req.Type)
	if req.Type == "" {
		qt = detectRequestType(req)
	}

	params := map[string]string{}
	switch qt {
	case models.QueryTypeEmail:
		email := normalizeEmail(req.Email)
		if email == "" {
			return models.SearchQuery{}, &ValidationError{Reason: "email is required for an email search"}
		}
		params["email"] = email

	case models.QueryTypePhone:
		phone := normalizePhone(req.Phone)
		if phone == "" {
			return models.SearchQuery{}, &ValidationError{Reason: "phone is required and must be 7-15 digits"}
		}
		params["phone"] = phone

	case models.QueryTypeName:
		first := normalizeText(req.FirstName)
		last := normalizeText(req.LastName)
		if first == "" && last == "" {
			return models.SearchQuery{}, &ValidationError{Reason: "first_name or last_name is required for a name search"}
		}
		setNonEmpty(params, "first_name", first)
		setNonEmpty(params, "last_name", last)

	case models.QueryTypeAddress:
		address := normalizeText(req.Address)
		if address == "" {
			return models.SearchQuery{}, &ValidationError{Reason: "address is required for an address search"}
		}
		params["address"] = address
		setNonEmpty(params, "city", normalizeText(req.City))
		setNonEmpty(params, "state", normalizeText(req.State))

	case models.QueryTypeComprehensive:
		setNonEmpty(params, "email", normalizeEmail(req.Email))
		setNonEmpty(params, "phone", normalizePhone(req.Phone))
		setNonEmpty(params, "first_name", normalizeText(req.FirstName))
		setNonEmpty(params, "last_name", normalizeText(req.LastName))
		setNonEmpty(params, "address", normalizeText(req.Address))
		if len(params) == 0 {
			return models.SearchQuery{}, &ValidationError{Reason: "comprehensive search needs at least one identifier"}
		}

	default:
		return models.SearchQuery{}, &ValidationError{Reason: "could not determine query type from request"}
	}

	return models.SearchQuery{Type: qt, Params: params}, nil
}

// ClassifyInput builds a query from a raw batch input line. Emails and phone
// numbers are recognized by shape; anything else is treated as a full name.
func ClassifyInput(input string) (models.SearchQuery, error) {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return models.SearchQuery{}, &ValidationError{Reason: "empty batch input"}
	}

	if email := normalizeEmail(trimmed); emailPattern.MatchString(email) {
		return models.SearchQuery{
			Type:   models.QueryTypeEmail,
			Params: map[string]string{"email": email},
		}, nil
	}
	if phone := normalizePhone(trimmed); phone != "" {
		return models.SearchQuery{
			Type:   models.QueryTypePhone,
			Params: map[string]string{"phone": phone},
		}, nil
	}
	return models.SearchQuery{
		Type:   models.QueryTypeName,
		Params: map[string]string{"name": normalizeText(trimmed)},
	}, nil
}

func detectRequestType(req *models.SearchRequest) models.QueryType {
	populated := 0
	var qt models.QueryType
	if req.Email != "" {
		populated++
		qt = models.QueryTypeEmail
	}
	if req.Phone != "" {
		populated++
		qt = models.QueryTypePhone
	}
	if req.FirstName != "" || req.LastName != "" {
		populated++
		qt = models.QueryTypeName
	}
	if req.Address != "" {
		populated++
		qt = models.QueryTypeAddress
	}
	if populated > 1 {
		return models.QueryTypeComprehensive
	}
	return qt
}

func normalizeEmail(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if !emailPattern.MatchString(s) {
		return ""
	}
	return s
}

// normalizePhone strips formatting characters and validates the digit run.
// Returns empty when the input is not a plausible phone number.
func normalizePhone(s string) string {
	var b strings.Builder
	for i, r := range strings.TrimSpace(s) {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' && i == 0:
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '(' || r == ')' || r == '.':
			// formatting, dropped
		default:
			return ""
		}
	}
	cleaned := b.String()
	if !phonePattern.MatchString(cleaned) {
		return ""
	}
	return cleaned
}

func normalizeText(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

func setNonEmpty(params map[string]string, key, value string) {
	if value != "" {
		params[key] = value
	}
}
