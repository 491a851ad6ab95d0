package main

import (
	"strings"
	"sync"
	"testing"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
)

func TestReadInputsBatching(t *testing.T) {
	batchSize = 2
	defer func() { batchSize = 0 }()

	source := strings.NewReader(`{"input": "one"}
{"input": "two"}
{"input": "three"}
`)
	inputChannel := make(chan []input, 10)
	err := readInputs(source, inputChannel)
	close(inputChannel)
	assert.NoError(t, err)

	var batches [][]input
	for batch := range inputChannel {
		batches = append(batches, batch)
	}
	assert.Len(t, batches, 2)
	assert.Len(t, batches[0], 2)
	assert.Equal(t, "one", batches[0][0].Input)
	assert.Equal(t, "two", batches[0][1].Input)
	assert.Len(t, batches[1], 1)
	assert.Equal(t, "three", batches[1][0].Input)
}

func TestReadInputsMalformedLine(t *testing.T) {
	source := strings.NewReader(`{"input": "ok"}
not json
`)
	inputChannel := make(chan []input, 10)
	err := readInputs(source, inputChannel)
	assert.Error(t, err)
}

// a read error closes the input channel, which must let the pipeline worker exit
func TestProcessWithPipelineExitsOnClose(t *testing.T) {
	inputChannel := make(chan []input, 1)
	processedChannel := make(chan []byte, 1)
	errorsChannel := make(chan error, 1)

	var wg sync.WaitGroup
	wg.Add(1)
	go processWithPipeline(&wg, inputChannel, processedChannel, errorsChannel, nil)
	close(inputChannel)

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("pipeline worker did not exit after the input channel was closed")
	}
}

func TestInputOutputSerialization(t *testing.T) {
	out := input{Input: "hello", Output: []float32{0.25, -0.5}}
	outputBytes, err := jsoniter.Marshal(out)
	assert.NoError(t, err)
	assert.JSONEq(t, `{"input":"hello","output":[0.25,-0.5]}`, string(outputBytes))

	empty := input{Input: "hello"}
	outputBytes, err = jsoniter.Marshal(empty)
	assert.NoError(t, err)
	assert.JSONEq(t, `{"input":"hello"}`, string(outputBytes))
}
