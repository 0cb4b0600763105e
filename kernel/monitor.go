package kernel

// Dump logs the task table, the delayed list and every allocated event ID.
func (k *Kernel) Dump() {
	log := k.log.With("mon")
	log.Infof("tick %d current %d spurious %d", k.Ticks(), k.Current(), k.Spurious())
	for _, t := range k.Tasks() {
		log.Infof("task %2d %-6s prio %3d %-18v slices %d/%d total %d stack %#x+%#x",
			t.ID, t.Name, t.Priority, t.State, t.RemainingSlices, t.MaxSlices, t.TotalSlices, t.StackAddr, t.StackSize)
	}
	for _, t := range k.Sleepers() {
		log.Infof("sleep %-6s +%d", t.Name, t.Delay)
	}
	for id := uint32(0); id < NumEventIDs; id++ {
		st, _ := k.Event(id)
		if st.Standby == 0 {
			continue
		}
		log.Infof("event %#x %v standby %d trigger %d waiting %d", id, st.Rule, st.Standby, st.Trigger, st.Waiting)
	}
}
