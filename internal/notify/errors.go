package notify

import "errors"

// ErrInvalidWebhookURL indicates a webhook URL without an http(s) scheme.
var ErrInvalidWebhookURL = errors.New("notify: invalid webhook url")
