package bwu

import "errors"

// ErrNoMediumSucceeded is returned by Upgrade once every candidate medium
// has exhausted its retry budget. The caller is expected to log this and
// keep the endpoint on its current channel, not surface it to the
// application.
var ErrNoMediumSucceeded = errors.New("bwu: no candidate medium produced an upgraded channel")

// ErrNoActiveChannel is returned by Upgrade when the endpoint has no
// currently registered channel to upgrade from.
var ErrNoActiveChannel = errors.New("bwu: endpoint has no active channel")
