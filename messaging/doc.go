// Copyright 2026 The Vagent Authors
// SPDX-License-Identifier: Apache-2.0

// Package messaging is a minimal Matrix client covering the endpoints
// the bot actually uses: password login, /sync long-polling, room
// joins, idempotent message sends (plain and threaded), typing
// notifications, and message pagination for room context.
//
// A Client is the unauthenticated transport (homeserver URL plus HTTP
// client). Login returns a Session that holds the access token in
// mmap-backed memory locked against swap. Sessions are lightweight;
// the bot holds exactly one for its lifetime.
//
// All errors from the homeserver surface as *MatrixError carrying the
// Matrix error code, server message, and HTTP status.
package messaging
