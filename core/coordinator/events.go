package coordinator

// MultiEvents fans one event out to several sinks (the realtime hub plus
// any external tap).
type MultiEvents []Events

func (m MultiEvents) EntityLocked(resource, instance, origin string) {
	for _, sink := range m {
		if sink != nil {
			sink.EntityLocked(resource, instance, origin)
		}
	}
}

func (m MultiEvents) EntityUnlocked(resource, instance, origin string) {
	for _, sink := range m {
		if sink != nil {
			sink.EntityUnlocked(resource, instance, origin)
		}
	}
}
