package domain

import "time"

// ScheduledTrigger publishes an event of TriggerType at every activation of
// a cron expression, e.g. a nightly "abandoned_cart_sweep".
type ScheduledTrigger struct {
	Name           string
	TriggerType    string
	CronExpression string
	Timezone       string
	TriggerData    map[string]any
	StartAt        *time.Time
	EndAt          *time.Time
	Enabled        bool
}
