package models

// Request DTOs for the HTTP layer. Bound by echo, defaulted by creasty/defaults
// and checked by validator.

type AlertLogsRequest struct {
	Page int `query:"page" default:"0" validate:"gte=0"`
	Size int `query:"size" default:"20" validate:"gte=1,lte=200"`
}

type RuleIDRequest struct {
	ID int64 `param:"id" validate:"required,gt=0"`
}

type ToggleRuleRequest struct {
	ID      int64  `param:"id" validate:"required,gt=0"`
	Enabled string `query:"enabled" validate:"required,oneof=true false"`
}

type UpdateRuleRequest struct {
	ID int64 `param:"id" validate:"required,gt=0"`
	AlertRuleInput
}

type LogIDRequest struct {
	ID int64 `param:"id" validate:"required,gt=0"`
}

type SystemHistoryRequest struct {
	Minutes int `query:"minutes" default:"60" validate:"gte=1,lte=10080"`
}

type UpdateConfigRequest struct {
	YoutubeURL *string        `json:"youtubeUrl" validate:"omitempty,url"`
	Tickers    []TickerConfig `json:"tickers" validate:"required,min=1,max=50,dive"`
}
