// Package ratelimit serializes upstream access per user. Each user gets a
// lane: a small concurrency cap, a bounded wait queue that fails fast when
// full, minimum spacing between departures, and a penalty window that grows
// on consecutive upstream 429s. Lanes are independent; one user's backoff
// never delays another.
package ratelimit
