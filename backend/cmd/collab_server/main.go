package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/IBM/sarama"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	_ "github.com/go-sql-driver/mysql"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/viper"

	"fileCollab/backend/internal/cache"
	"fileCollab/backend/internal/collab"
	"fileCollab/backend/internal/httpapi/handlers"
	"fileCollab/backend/internal/httpapi/middleware"
	"fileCollab/backend/internal/store"
	"fileCollab/backend/internal/ws"
)

type CollabConfig struct {
	Running struct {
		Port int `mapstructure:"Port"`
	} `mapstructure:"Running"`
	Mysql struct {
		DSN string `mapstructure:"dsn"`
	} `mapstructure:"Mysql"`
	Redis struct {
		Addrs    []string `mapstructure:"addrs"`
		Password string   `mapstructure:"password"`
	} `mapstructure:"Redis"`
	Kafka struct {
		Brokers []string `mapstructure:"brokers"`
		Topic   string   `mapstructure:"topic"`
	} `mapstructure:"Kafka"`
}

func initConfig() (*CollabConfig, error) {
	cfg := &CollabConfig{}
	v := viper.New()
	v.SetConfigName("fileCollabConfig")
	v.SetConfigType("yaml")
	// 兼容从项目根目录或 backend 目录启动
	v.AddConfigPath("./backend/config")
	v.AddConfigPath("./config")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func main() {
	cfg, err := initConfig()
	if err != nil {
		log.Fatalf("init config failed: %v", err)
	}
	log.Printf("config: %+v", cfg)

	// === Redis（在场名单 + 光标缓存）===
	var rdb redis.UniversalClient
	if len(cfg.Redis.Addrs) > 1 {
		rdb = redis.NewClusterClient(&redis.ClusterOptions{
			Addrs:    cfg.Redis.Addrs,
			Password: cfg.Redis.Password,
		})
	} else {
		addr := "127.0.0.1:6379"
		if len(cfg.Redis.Addrs) == 1 {
			addr = cfg.Redis.Addrs[0]
		}
		rdb = redis.NewClient(&redis.Options{Addr: addr, Password: cfg.Redis.Password})
	}
	if err = rdb.Ping(context.Background()).Err(); err != nil {
		log.Fatalf("Failed to connect to redis: %v", err)
	}
	defer rdb.Close()

	// === MySQL：gorm 管文件表，database/sql 管用户与快照 ===
	dsn := cfg.Mysql.DSN
	gdb, err := store.InitMySQL(dsn)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	fileStore, err := store.NewGormFileStore(gdb)
	if err != nil {
		log.Fatalf("Failed to migrate file tables: %v", err)
	}

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	snapshotStore := store.NewSnapshotStore(db)

	// === Kafka Producer（活动流，可选）===
	var dispatcher *collab.ActivityDispatcher
	if len(cfg.Kafka.Brokers) > 0 {
		kafkaCfg := sarama.NewConfig()
		// SyncProducer 必须开启 Return.Successes
		kafkaCfg.Producer.Return.Successes = true
		kafkaCfg.Producer.RequiredAcks = sarama.WaitForLocal
		producer, err := sarama.NewSyncProducer(cfg.Kafka.Brokers, kafkaCfg)
		if err != nil {
			log.Fatalf("Failed to connect kafka: %v", err)
		}
		defer producer.Close()

		kafkaSem := collab.NewSemaphoreControl()
		// Kafka 本地队列 + worker 重试发送
		dispatcher = collab.NewActivityDispatcher(
			producer,
			cfg.Kafka.Topic,
			kafkaSem,
			collab.DispatcherOptions{
				//  Go 允许在数字里用下划线做分隔符，方便阅读
				QueueSize:   10_000,
				Workers:     4,
				MaxRetry:    3,
				BaseBackoff: 50 * time.Millisecond,
				MaxBackoff:  1 * time.Second,
			},
		)
	} else {
		log.Printf("kafka brokers not configured, activity stream disabled")
	}

	presenceCache := cache.NewRedisPresence(rdb)
	hub := ws.NewHub(presenceCache)

	saveSem := collab.NewSemaphoreControl()
	wsSem := collab.NewSemaphoreControl()

	fileHandlers := handlers.NewFiles(fileStore, snapshotStore, dispatcher, saveSem)
	authHandlers := handlers.NewAuth(db)
	manager := ws.NewManager(hub, fileStore, wsSem)

	r := gin.New()
	// 中间件
	r.Use(gin.Logger())
	r.Use(gin.Recovery())
	r.Use(cors.New(cors.Config{
		AllowOriginFunc:  func(origin string) bool { return true },
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "HEAD", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))

	// 路由
	v1 := r.Group("/v1")
	auth := v1.Group("/auth")
	auth.POST("/register", authHandlers.Register)
	auth.POST("/login", authHandlers.Login)

	files := v1.Group("/files")
	files.Use(middleware.AuthMiddleware())
	files.POST("", fileHandlers.Create)
	files.GET("/:fileID", fileHandlers.Get)
	files.PUT("/:fileID", fileHandlers.Save)

	collabGroup := r.Group("/collab")
	collabGroup.Use(middleware.AuthMiddleware())
	collabGroup.GET("/ws", manager.WebSocketConnect)

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"message": "ok",
		})
	})

	port := cfg.Running.Port
	_ = r.Run(fmt.Sprintf(":%d", port))
}
