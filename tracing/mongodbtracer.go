package tracing

import (
	"context"
	"log"
	"time"

	"github.com/rs/xid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/sarchlab/shiba/sim"
)

// MongoDBTracer is a tracer that can dump the tasks into a MongoDB database.
type MongoDBTracer struct {
	timeTeller   sim.TimeTeller
	client       *mongo.Client
	collect      *mongo.Collection
	uri          string
	tracingTasks map[string]Task
}

// SetURI sets the server and the port to connect to
func (t *MongoDBTracer) SetURI(uri string) {
	t.uri = uri
}

// Init connects to the MongoDB database.
func (t *MongoDBTracer) Init() {
	var err error

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	t.client, err = mongo.Connect(ctx, options.Client().ApplyURI(t.uri))
	if err != nil {
		log.Panic(err)
	}

	dbName := xid.New().String()
	log.Printf("Trace is collected in database: %s\n", dbName)

	t.collect = t.client.Database(dbName).Collection("trace")

	t.createIndexes()
}

func (t *MongoDBTracer) createIndexes() {
	t.createIndex("id", true)
	t.createIndex("parent_id", true)
	t.createIndex("kind", true)
	t.createIndex("what", true)
	t.createIndex("location", true)
	t.createIndex("start_time", false)
	t.createIndex("end_time", false)
}

func (t *MongoDBTracer) createIndex(key string, useHash bool) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var value interface{}
	if useHash {
		value = "hashed"
	} else {
		value = 1
	}

	_, err := t.collect.Indexes().CreateOne(ctx,
		mongo.IndexModel{
			Keys: bson.D{bson.E{Key: key, Value: value}},
		},
	)
	if err != nil {
		log.Panic(err)
	}
}

// StartTask marks the start of a task.
func (t *MongoDBTracer) StartTask(task Task) {
	task.StartTime = t.timeTeller.CurrentTime()
	t.tracingTasks[task.ID] = task
}

// StepTask does nothing
func (t *MongoDBTracer) StepTask(_ Task) {
	// Do nothing
}

// EndTask writes the task into the database.
func (t *MongoDBTracer) EndTask(task Task) {
	originalTask, ok := t.tracingTasks[task.ID]
	if !ok {
		return
	}

	originalTask.EndTime = t.timeTeller.CurrentTime()
	originalTask.Detail = nil
	delete(t.tracingTasks, task.ID)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := t.collect.InsertOne(ctx, originalTask)
	if err != nil {
		log.Panic(err)
	}
}

// NewMongoDBTracer returns a new MongoDBTracer. The Init function must be
// called before using the tracer.
func NewMongoDBTracer(timeTeller sim.TimeTeller) *MongoDBTracer {
	t := &MongoDBTracer{
		timeTeller:   timeTeller,
		uri:          "mongodb://localhost:27017",
		tracingTasks: make(map[string]Task),
	}
	return t
}
