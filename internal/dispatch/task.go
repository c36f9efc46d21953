package dispatch

import "editbench/pkg/api"

// ScoreTask is one judge request together with its position in the list
// handed to Dispatch.
type ScoreTask struct {
	api.WorkerTask
	Index int
}

type DeviceAssignment struct {
	Device  int
	Tasks   []ScoreTask
	Indices []int
}

// Partition splits tasks round robin over devices: task i goes to
// devices[i % len(devices)]. Every device gets an assignment, possibly
// empty, and relative order inside an assignment follows the input.
func Partition(tasks []api.WorkerTask, devices []int) []DeviceAssignment {
	if len(devices) == 0 {
		return nil
	}

	assignments := make([]DeviceAssignment, len(devices))
	for i, device := range devices {
		assignments[i].Device = device
	}

	for i, task := range tasks {
		a := &assignments[i%len(devices)]
		a.Tasks = append(a.Tasks, ScoreTask{WorkerTask: task, Index: i})
		a.Indices = append(a.Indices, i)
	}

	return assignments
}
