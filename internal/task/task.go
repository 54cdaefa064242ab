// Package task 负责把插件定时任务从调度器送到执行它们的 Processor，
// 队列可以是内存、Redis 或 RabbitMQ。
package task

import (
	"fmt"
	"strconv"
	"strings"

	xerrors "PluginHub/internal/errors"
	"PluginHub/pkg/plugin"
)

const (
	CodeJobInvalid xerrors.Code = "JOB_INVALID"
	CodeJobPublish xerrors.Code = "JOB_PUBLISH_FAILED"
	CodeJobSkipped xerrors.Code = "JOB_SKIPPED"
	CodeJobFailed  xerrors.Code = "JOB_FAILED"
)

func init() {
	xerrors.Register(CodeJobInvalid, xerrors.Attributes{
		Message:   "malformed scheduled job",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeJobPublish, xerrors.Attributes{
		Message:   "failed to publish scheduled job",
		Severity:  xerrors.SeverityCritical,
		Retryable: true,
		Alert:     true,
	})
	xerrors.Register(CodeJobSkipped, xerrors.Attributes{
		Message:   "scheduled job has no runnable unit",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeJobFailed, xerrors.Attributes{
		Message:   "scheduled job failed",
		Severity:  xerrors.SeverityWarning,
		Retryable: false,
		Alert:     true,
	})
}

// Job 要求 Processor 运行某个配置的一个定时任务。
type Job struct {
	ConfigID int64
	Task     string
}

// String 把任务编码为队列消息 "<configID>:<task>"。
func (j Job) String() string {
	return fmt.Sprintf("%d:%s", j.ConfigID, j.Task)
}

// ParseJob 解析队列消息。
func ParseJob(payload string) (Job, error) {
	idPart, taskPart, ok := strings.Cut(strings.TrimSpace(payload), ":")
	if !ok {
		return Job{}, xerrors.New(CodeJobInvalid, fmt.Sprintf("任务 %q 缺少任务名", payload))
	}
	id, err := strconv.ParseInt(idPart, 10, 64)
	if err != nil || id <= 0 {
		return Job{}, xerrors.New(CodeJobInvalid, fmt.Sprintf("任务 %q 的配置 ID 无效", payload))
	}
	if !plugin.IsScheduledTask(taskPart) {
		return Job{}, xerrors.New(CodeJobInvalid, fmt.Sprintf("任务 %q 指定了未知任务", payload))
	}
	return Job{ConfigID: id, Task: taskPart}, nil
}
