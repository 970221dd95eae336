package loader

// join queues cb on the race for name and returns the queue length. A length
// of one means the caller opened the race and must issue the fetch.
func (l *Loader) join(name string, cb Callback) int {
	l.races[name] = append(l.races[name], cb)
	return len(l.races[name])
}

// flush closes the race for name and calls every queued callback with value,
// in the order they joined. The race is removed before any callback runs, so a
// callback requesting the same name again starts a fresh race.
func (l *Loader) flush(name string, value any) {
	queue := l.races[name]
	delete(l.races, name)
	for _, cb := range queue {
		cb(value)
	}
}

// Racing reports whether a fetch for name is in flight.
func (l *Loader) Racing(name string) bool {
	return len(l.races[name]) > 0
}
