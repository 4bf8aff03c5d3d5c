package service

import (
	"context"
	"time"

	"github.com/refedo/OTS-sub007/internal/ops/entity"
	"github.com/refedo/OTS-sub007/internal/shared/feishu"
	"go.uber.org/zap"
)

// CardSender delivers a message card.
type CardSender interface {
	SendCard(ctx context.Context, card feishu.InteractiveCard) error
}

// AlertNotifier pushes opened and escalated risks at or above a severity to a group bot.
type AlertNotifier struct {
	sender      CardSender
	minSeverity string
	feedURL     string
	resolver    NameResolver
	logger      *zap.Logger
}

func NewAlertNotifier(sender CardSender, minSeverity, feedURL string, resolver NameResolver, logger *zap.Logger) *AlertNotifier {
	if entity.SeverityRank(minSeverity) == 0 {
		minSeverity = entity.SeverityCritical
	}
	return &AlertNotifier{
		sender:      sender,
		minSeverity: minSeverity,
		feedURL:     feedURL,
		resolver:    resolver,
		logger:      logger.Named("alert"),
	}
}

// NotifyRisks sends one card per qualifying change. Delivery failures are logged only.
func (n *AlertNotifier) NotifyRisks(ctx context.Context, changes []RiskChange) {
	var alerts []RiskChange
	for _, ch := range changes {
		if ch.Kind != RiskChangeOpened && ch.Kind != RiskChangeEscalated {
			continue
		}
		if entity.SeverityRank(ch.Event.Severity) < entity.SeverityRank(n.minSeverity) {
			continue
		}
		alerts = append(alerts, ch)
	}
	if len(alerts) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()

	names := n.labels(ctx, alerts)
	for _, ch := range alerts {
		ev := ch.Event
		subjects := make([]string, 0, len(ev.Subjects))
		for _, s := range ev.Subjects {
			label := names[s.WorkUnitID]
			if label == "" {
				label = s.WorkUnitID
			}
			subjects = append(subjects, label)
		}
		card := feishu.NewRiskAlertCard(feishu.RiskAlert{
			Kind:       ch.Kind,
			RiskType:   ev.Type,
			Severity:   ev.Severity,
			ProjectID:  ev.ProjectID,
			Reason:     ev.Reason,
			Action:     ev.RecommendedAction,
			Subjects:   subjects,
			DetectedAt: ev.DetectedAt,
			Link:       n.feedURL,
		})
		if err := n.sender.SendCard(ctx, card); err != nil {
			n.logger.Warn("send risk alert failed", zap.String("risk_id", ev.ID), zap.Error(err))
			continue
		}
		n.logger.Debug("risk alert sent", zap.String("risk_id", ev.ID), zap.String("kind", ch.Kind))
	}
}

func (n *AlertNotifier) labels(ctx context.Context, changes []RiskChange) map[string]string {
	if n.resolver == nil {
		return map[string]string{}
	}
	var ids []string
	for _, ch := range changes {
		for _, s := range ch.Event.Subjects {
			ids = append(ids, s.WorkUnitID)
		}
	}
	names, err := n.resolver.ResolveNames(ctx, ids)
	if err != nil {
		n.logger.Warn("resolve alert labels failed", zap.Error(err))
		return map[string]string{}
	}
	return names
}
