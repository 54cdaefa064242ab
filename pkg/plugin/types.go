package plugin

// Task names a scheduled entry point a plugin may export. The scheduler only
// recognises the three cadences below.
type Task string

const (
	TaskRunEveryMinute Task = "runEveryMinute"
	TaskRunEveryHour   Task = "runEveryHour"
	TaskRunEveryDay    Task = "runEveryDay"
)

// ScheduledTasks lists the tasks the scheduler knows how to dispatch, in
// dispatch order.
var ScheduledTasks = []Task{TaskRunEveryMinute, TaskRunEveryHour, TaskRunEveryDay}

// IsScheduledTask reports whether name is one of ScheduledTasks.
func IsScheduledTask(name string) bool {
	for _, t := range ScheduledTasks {
		if string(t) == name {
			return true
		}
	}
	return false
}

// Info contains descriptive metadata for a plugin implementation.
type Info struct {
	Name        string
	Description string
	Version     string
	// Imports are the host libraries the code wants available at setup.
	Imports []string
}

// Source identifies the plugin revision a Loader should resolve.
type Source struct {
	PluginID int64
	Name     string
	// Path overrides the location derived from the sandbox plugin directory.
	Path string
}
