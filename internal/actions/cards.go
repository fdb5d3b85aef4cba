package actions

// Flow card action names
const (
	ActionSyncMoods = "sync-moods"
	ActionCycleMood = "cycle-mood"
	ActionButton    = "button" // the device's button capability
)

// RegisterFlowCards registers the sync and cycle action cards plus the button capability.
func RegisterFlowCards(r *Registry) error {
	syncMoods := func(ctx *Context) error {
		dev, err := ctx.Device()
		if err != nil {
			return err
		}
		_, err = dev.SyncMoods(ctx.Ctx())
		return err
	}

	cycleMood := func(ctx *Context) error {
		dev, err := ctx.Device()
		if err != nil {
			return err
		}
		_, err = dev.CycleMood(ctx.Ctx())
		return err
	}

	if err := r.RegisterSimple(ActionSyncMoods, syncMoods); err != nil {
		return err
	}
	if err := r.RegisterSimple(ActionCycleMood, cycleMood); err != nil {
		return err
	}
	return r.RegisterSimple(ActionButton, cycleMood)
}
