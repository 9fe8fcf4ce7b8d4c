package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/amcclassics/r8080-meter/pkg/protocol"
)

// 每个传感器的备份列表只保留最近 1000 条
const listMaxLen = 1000

// MeasurementQueue 把测量值发布到 Redis，作为持久化后端之一
type MeasurementQueue struct {
	client  *redis.Client
	channel string
	log     *logrus.Logger
}

func NewMeasurementQueue(addr, password, channel string, db int, poolSize int, log *logrus.Logger) (*MeasurementQueue, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
		PoolSize: poolSize,
	})

	// 测试连接
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("连接Redis失败: %w", err)
	}

	log.Info("Redis连接成功")

	return &MeasurementQueue{
		client:  client,
		channel: channel,
		log:     log,
	}, nil
}

// Publish 发布测量值到Redis
func (mq *MeasurementQueue) Publish(ctx context.Context, m *protocol.Measurement) error {
	jsonData, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("序列化测量值失败: %w", err)
	}

	// 发布到Redis Pub/Sub
	if err := mq.client.Publish(ctx, mq.channel, jsonData).Err(); err != nil {
		return fmt.Errorf("发布消息失败: %w", err)
	}

	// 同时保存到Redis List（作为持久化备份）
	listKey := fmt.Sprintf("soundlevel:%s:data", m.Sensor)
	if err := mq.client.LPush(ctx, listKey, jsonData).Err(); err != nil {
		mq.log.Warnf("保存到List失败: %v", err)
	}

	// 限制List长度
	mq.client.LTrim(ctx, listKey, 0, listMaxLen-1)

	return nil
}

// Close 关闭连接
func (mq *MeasurementQueue) Close() error {
	return mq.client.Close()
}
