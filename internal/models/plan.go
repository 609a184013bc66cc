// Identicore - Identity Search Orchestration and Provider Resilience
// Copyright 2026 Identicore Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/identicore/identicore

package models

// Plan is a subscription tier governing quota limits.
type Plan string

const (
	PlanFree         Plan = "FREE"
	PlanStarter      Plan = "STARTER"
	PlanProfessional Plan = "PROFESSIONAL"
	PlanEnterprise   Plan = "ENTERPRISE"
)

// PlanQuota holds the static per-plan limits. A limit of Unlimited disables
// that boundary. This is immutable configuration, not user data.
type PlanQuota struct {
	DailySearchLimit   int
	MonthlySearchLimit int
	MaxBatchSize       int
}

// Unlimited marks a quota boundary as disabled.
const Unlimited = -1

// planQuotas is the static plan table. ENTERPRISE batch size still carries
// a cap so the absolute submission ceiling binds for every tier.
var planQuotas = map[Plan]PlanQuota{
	PlanFree:         {DailySearchLimit: 5, MonthlySearchLimit: 100, MaxBatchSize: 10},
	PlanStarter:      {DailySearchLimit: 50, MonthlySearchLimit: 1000, MaxBatchSize: 50},
	PlanProfessional: {DailySearchLimit: 250, MonthlySearchLimit: 10000, MaxBatchSize: 100},
	PlanEnterprise:   {DailySearchLimit: Unlimited, MonthlySearchLimit: Unlimited, MaxBatchSize: 500},
}

// QuotaFor returns the quota for a plan. Unknown plans fall back to FREE,
// the most restrictive tier.
func QuotaFor(plan Plan) PlanQuota {
	if q, ok := planQuotas[plan]; ok {
		return q
	}
	return planQuotas[PlanFree]
}

// Valid reports whether p is a known plan tier.
func (p Plan) Valid() bool {
	_, ok := planQuotas[p]
	return ok
}
