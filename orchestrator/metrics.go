// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package orchestrator

import (
	"errors"

	"github.com/hashicorp/capauth/handler"
	"github.com/prometheus/client_golang/prometheus"
)

// result label values
const (
	resultSuccess   = "success"
	resultError     = "error"
	resultNavigated = "navigated"
)

// metrics counts the flows an Orchestrator drives.
type metrics struct {
	logins  *prometheus.CounterVec
	logouts *prometheus.CounterVec
	resumes *prometheus.CounterVec
	secures *prometheus.CounterVec
}

// newMetrics registers the counters with reg. Orchestrators sharing a
// registerer share the counters.
func newMetrics(reg prometheus.Registerer) (*metrics, error) {
	m := &metrics{
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "capauth_login_total",
			Help: "Total number of interactive login attempts by provider, handler and result",
		}, []string{"provider", "handler", "result"}),
		logouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "capauth_logout_total",
			Help: "Total number of logout attempts by provider, handler and result",
		}, []string{"provider", "handler", "result"}),
		resumes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "capauth_resume_total",
			Help: "Total number of flows resumed at startup by provider, action and result",
		}, []string{"provider", "action", "result"}),
		secures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "capauth_secure_total",
			Help: "Total number of secure decisions by provider and decision",
		}, []string{"provider", "decision"}),
	}
	for _, c := range []**prometheus.CounterVec{&m.logins, &m.logouts, &m.resumes, &m.secures} {
		if err := reg.Register(*c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if !errors.As(err, &are) {
				return nil, err
			}
			existing, ok := are.ExistingCollector.(*prometheus.CounterVec)
			if !ok {
				return nil, err
			}
			*c = existing
		}
	}
	return m, nil
}

func result(err error) string {
	switch {
	case err == nil:
		return resultSuccess
	case errors.Is(err, handler.ErrNavigated):
		return resultNavigated
	default:
		return resultError
	}
}
