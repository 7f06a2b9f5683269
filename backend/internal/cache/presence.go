package cache

import (
	"context"
	"strconv"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
)

type PresenceMember struct {
	UserID string
	Name   string
}

// PresenceCache：文件房间的在线状态。
// 心跳即续期：重复 AddMember 刷新逻辑 TTL。
type PresenceCache interface {
	AddMember(ctx context.Context, fileID, userID, name string, ttl time.Duration) error
	RemoveMember(ctx context.Context, fileID, userID string) error
	GetAliveMembers(ctx context.Context, fileID string) ([]PresenceMember, error)
	GetFiles(ctx context.Context) ([]string, error)
	SetCursor(ctx context.Context, fileID, userID string, jsonData []byte, ttl time.Duration) error
	GetCursors(ctx context.Context, fileID string, userIDs []string) (map[string][]byte, error)
}

type redisPresence struct {
	rdb redis.UniversalClient
}

func NewRedisPresence(rdb redis.UniversalClient) PresenceCache {
	return &redisPresence{rdb: rdb}
}

func (p *redisPresence) AddMember(ctx context.Context, fileID, userID, name string, ttl time.Duration) error {
	tx := p.rdb.TxPipeline()
	// ZSET score 使用 expireAt（Unix 秒），表达"逻辑 TTL"
	expireAt := time.Now().Add(ttl).Unix()
	tx.ZAdd(ctx, roomKey(fileID), redis.Z{Score: float64(expireAt), Member: userID})
	tx.HSet(ctx, namesKey(fileID), userID, name)
	_, err := tx.Exec(ctx)
	return err
}

func (p *redisPresence) RemoveMember(ctx context.Context, fileID, userID string) error {
	tx := p.rdb.TxPipeline()
	tx.ZRem(ctx, roomKey(fileID), userID)
	tx.HDel(ctx, namesKey(fileID), userID)
	tx.Del(ctx, cursorKey(fileID, userID))
	_, err := tx.Exec(ctx)
	return err
}

func (p *redisPresence) GetFiles(ctx context.Context) ([]string, error) {
	var files []string
	iter := p.rdb.Scan(ctx, 0, "presence:file:*", 0).Iterator()
	for iter.Next(ctx) {
		k := iter.Val()
		// namesKey 也以 presence:file: 开头，需要过滤
		if strings.Contains(k, ":names:") {
			continue
		}
		fileID := strings.TrimPrefix(k, "presence:file:")
		fileID = strings.TrimSuffix(strings.TrimPrefix(fileID, "{fileID:"), "}")
		if fileID != "" {
			files = append(files, fileID)
		}
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return files, nil
}

func (p *redisPresence) SetCursor(ctx context.Context, fileID, userID string, jsonData []byte, ttl time.Duration) error {
	return p.rdb.Set(ctx, cursorKey(fileID, userID), jsonData, ttl).Err()
}

func (p *redisPresence) GetCursors(ctx context.Context, fileID string, userIDs []string) (map[string][]byte, error) {
	out := make(map[string][]byte, len(userIDs))
	for _, uid := range userIDs {
		b, err := p.rdb.Get(ctx, cursorKey(fileID, uid)).Bytes()
		if err != nil {
			if err == redis.Nil {
				continue
			}
			return nil, err
		}
		out[uid] = b
	}
	return out, nil
}

func (p *redisPresence) GetAliveMembers(ctx context.Context, fileID string) ([]PresenceMember, error) {
	// step1: lua 清理过期成员（score=expireAt，<= now 视为过期）
	now := time.Now().Unix()
	luaScript := `
	-- KEYS[1] = roomKey(fileID)
	-- KEYS[2] = namesKey(fileID)
	-- ARGV[1] = now (unix seconds)

	local expired = redis.call("ZRANGEBYSCORE", KEYS[1], "-inf", ARGV[1])
	if #expired > 0 then
		redis.call("ZREMRANGEBYSCORE", KEYS[1], "-inf", ARGV[1])
		redis.call("HDEL", KEYS[2], unpack(expired))
	end
	return #expired
	`
	script := redis.NewScript(luaScript)
	if _, err := script.Run(ctx, p.rdb, []string{roomKey(fileID), namesKey(fileID)}, now).Int(); err != nil && err != redis.Nil {
		return nil, err
	}

	// step2: 查询在线成员
	aliveIDs, err := p.rdb.ZRangeByScore(ctx, roomKey(fileID), &redis.ZRangeBy{
		Min: "(" + strconv.FormatInt(now, 10),
		Max: "+inf",
	}).Result()
	if err != nil && err != redis.Nil {
		return nil, err
	}
	if len(aliveIDs) == 0 {
		return nil, nil
	}

	// step3: 批量取名字
	names, err := p.rdb.HMGet(ctx, namesKey(fileID), aliveIDs...).Result()
	if err != nil && err != redis.Nil {
		return nil, err
	}
	members := make([]PresenceMember, 0, len(aliveIDs))
	for i, v := range names {
		name := ""
		if v != nil {
			name, _ = v.(string)
		}
		members = append(members, PresenceMember{UserID: aliveIDs[i], Name: name})
	}
	return members, nil
}
