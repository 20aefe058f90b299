// Package keymap derives the Redis key shapes a (app, queue) task queue
// uses. These shapes are part of the external storage contract and must
// stay byte-for-byte stable across implementations (see spec §4.1/§6).
package keymap

import "fmt"

// KeyMap derives deterministic store keys for one (app, queue) namespace.
type KeyMap struct {
	App   string
	Queue string
}

// New returns a KeyMap for the given app/queue pair.
func New(app, queue string) KeyMap {
	return KeyMap{App: app, Queue: queue}
}

// Counter returns the hash key and field the per-queue id counter lives at.
func (k KeyMap) Counter() (key, field string) {
	return "AX:INC", fmt.Sprintf("%s:%s", k.App, k.Queue)
}

// Meta returns the metadata hash key for task id.
func (k KeyMap) Meta(id int64) string {
	return fmt.Sprintf("AX:META:%s:%s:%d", k.App, k.Queue, id)
}

// CName returns the cname index key for a custom task name.
func (k KeyMap) CName(cname string) string {
	return fmt.Sprintf("AX:CNAME:%s:%s:%s", k.App, k.Queue, cname)
}

// UUID returns the per-queue uuid sorted-set key.
func (k KeyMap) UUID() string {
	return fmt.Sprintf("AX:UUID:%s:%s", k.App, k.Queue)
}
