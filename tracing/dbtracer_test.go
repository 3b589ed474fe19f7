package tracing

import (
	"database/sql"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/shiba/datarecording"
	"github.com/sarchlab/shiba/sim"
)

// Simple test time teller implementation
type testTimeTeller struct {
	currentTime sim.VTimeInSec
}

func (t *testTimeTeller) CurrentTime() sim.VTimeInSec {
	return t.currentTime
}

func (t *testTimeTeller) SetCurrentTime(time sim.VTimeInSec) {
	t.currentTime = time
}

var _ = Describe("DBTracer", func() {
	var (
		timeTeller   *testTimeTeller
		db           *sql.DB
		dataRecorder datarecording.DataRecorder
		tracer       *DBTracer
	)

	BeforeEach(func() {
		timeTeller = &testTimeTeller{}

		var err error
		db, err = sql.Open("sqlite3", ":memory:")
		Expect(err).To(BeNil())

		dataRecorder = datarecording.NewWithDB(db)
		tracer = NewDBTracer(timeTeller, dataRecorder)
	})

	AfterEach(func() {
		db.Close()
	})

	It("should write completed tasks to the backend", func() {
		timeTeller.SetCurrentTime(1.0)
		tracer.StartTask(Task{
			ID:       "task1",
			Kind:     "req_in",
			What:     "read",
			Location: "Switch1",
		})

		timeTeller.SetCurrentTime(2.0)
		tracer.EndTask(Task{ID: "task1"})

		dataRecorder.Flush()

		var count int
		err := db.QueryRow("SELECT COUNT(*) FROM trace").Scan(&count)
		Expect(err).To(BeNil())
		Expect(count).To(Equal(1))
	})

	It("should drop unfinished tasks on EndTask for unknown IDs", func() {
		timeTeller.SetCurrentTime(2.0)
		tracer.EndTask(Task{ID: "never_started"})

		dataRecorder.Flush()

		var count int
		err := db.QueryRow("SELECT COUNT(*) FROM trace").Scan(&count)
		Expect(err).To(BeNil())
		Expect(count).To(Equal(0))
	})

	It("should panic if a starting task misses required fields", func() {
		Expect(func() {
			tracer.StartTask(Task{ID: "task1"})
		}).To(Panic())
	})

	Context("AddMilestone with same timestamp", func() {
		It("should only record the first milestone when multiple milestones occur at the same time", func() {
			timeTeller.SetCurrentTime(100.0)

			milestone1 := Milestone{
				ID:       "milestone1",
				TaskID:   "task1",
				Kind:     MilestoneKindHardwareResource,
				What:     "resource_acquired",
				Location: "test_location",
			}

			milestone2 := Milestone{
				ID:       "milestone2",
				TaskID:   "task1",
				Kind:     MilestoneKindNetworkTransfer,
				What:     "data_sent",
				Location: "test_location",
			}

			milestone3 := Milestone{
				ID:       "milestone3",
				TaskID:   "task1",
				Kind:     MilestoneKindQueue,
				What:     "queued",
				Location: "test_location",
			}

			tracer.AddMilestone(milestone1)
			tracer.AddMilestone(milestone2)
			tracer.AddMilestone(milestone3)

			task := tracer.tracingTasks["task1"]
			Expect(task.Milestones).To(HaveLen(1))
			Expect(task.Milestones[0].ID).To(Equal("milestone1"))
			Expect(task.Milestones[0].Time).To(Equal(sim.VTimeInSec(100.0)))
		})

		It("should allow milestones for different tasks at the same time", func() {
			timeTeller.SetCurrentTime(100.0)

			milestone1 := Milestone{
				ID:       "milestone1",
				TaskID:   "task1",
				Kind:     MilestoneKindHardwareResource,
				What:     "resource_acquired",
				Location: "test_location",
			}

			milestone2 := Milestone{
				ID:       "milestone2",
				TaskID:   "task2",
				Kind:     MilestoneKindNetworkTransfer,
				What:     "data_sent",
				Location: "test_location",
			}

			tracer.AddMilestone(milestone1)
			tracer.AddMilestone(milestone2)

			task1 := tracer.tracingTasks["task1"]
			task2 := tracer.tracingTasks["task2"]
			Expect(task1.Milestones).To(HaveLen(1))
			Expect(task2.Milestones).To(HaveLen(1))
			Expect(task1.Milestones[0].ID).To(Equal("milestone1"))
			Expect(task2.Milestones[0].ID).To(Equal("milestone2"))
		})

		It("should allow milestones for same task at different times", func() {
			timeTeller.SetCurrentTime(100.0)

			milestone1 := Milestone{
				ID:       "milestone1",
				TaskID:   "task1",
				Kind:     MilestoneKindHardwareResource,
				What:     "resource_acquired",
				Location: "test_location",
			}

			tracer.AddMilestone(milestone1)

			timeTeller.SetCurrentTime(200.0)

			milestone2 := Milestone{
				ID:       "milestone2",
				TaskID:   "task1",
				Kind:     MilestoneKindNetworkTransfer,
				What:     "data_sent",
				Location: "test_location",
			}

			tracer.AddMilestone(milestone2)

			task := tracer.tracingTasks["task1"]
			Expect(task.Milestones).To(HaveLen(2))
			Expect(task.Milestones[0].Time).To(Equal(sim.VTimeInSec(100.0)))
			Expect(task.Milestones[1].Time).To(Equal(sim.VTimeInSec(200.0)))
		})

		It("should still prevent identical milestones from being recorded twice", func() {
			timeTeller.SetCurrentTime(100.0)

			milestone := Milestone{
				ID:       "milestone1",
				TaskID:   "task1",
				Kind:     MilestoneKindHardwareResource,
				What:     "resource_acquired",
				Location: "test_location",
			}

			tracer.AddMilestone(milestone)
			tracer.AddMilestone(milestone)

			task := tracer.tracingTasks["task1"]
			Expect(task.Milestones).To(HaveLen(1))
		})
	})
})
