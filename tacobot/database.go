package tacobot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"golang.org/x/sync/errgroup"
)

var (
	dbOperationTimeout = 30 * time.Second

	// ErrNotFound is returned when a lookup matches no document.
	ErrNotFound = errors.New("record not found")
)

// DataStore is the persistence layer contract. The only production
// implementation is backed by MongoDB; tests substitute a mock.
//
// All write operations are single-document upserts/updates, so the
// store needs no transaction support.
type DataStore interface {
	// UpsertUser records a discord user sighting, updating the stored
	// username/global name if they changed. The boolean is true when a
	// new user document was created.
	UpsertUser(ctx context.Context, u discordgo.User) (*User, bool, error)
	GetUser(ctx context.Context, userID string) (*User, error)

	// AddTacos adjusts a guild/user taco balance by amount (which may
	// be negative) and returns the new count. Counts clamp at zero.
	AddTacos(ctx context.Context, guildID, userID string, amount int64) (int64, error)
	TacoCount(ctx context.Context, guildID, userID string) (int64, error)
	RecordGift(ctx context.Context, gift TacoGift) error
	// GiftTotal24h returns the tacos a user has gifted in the guild
	// over the trailing 24 hours. Removals don't count against it.
	GiftTotal24h(ctx context.Context, guildID, fromUserID string) (int64, error)
	Leaderboard(ctx context.Context, guildID string, limit int64) ([]TacoEntry, error)

	CreateTwitchLink(ctx context.Context, userID, code string) (*TwitchLink, error)
	SetTwitchName(ctx context.Context, userID, twitchName string) (*TwitchLink, error)
	ConfirmTwitchLink(ctx context.Context, code, twitchName string) (*TwitchLink, error)
	GetTwitchLink(ctx context.Context, userID string) (*TwitchLink, error)
	RemoveTwitchLink(ctx context.Context, userID string) error
	TwitchLinks(ctx context.Context) ([]TwitchLink, error)
	// SetTwitchLive flips the live flag on a verified link, returning
	// false when no verified link has that twitch name.
	SetTwitchLive(ctx context.Context, twitchName string, live bool) (bool, error)

	WhitelistAdd(ctx context.Context, entry MinecraftWhitelistEntry) error
	WhitelistRemove(ctx context.Context, guildID, username string) (bool, error)
	Whitelist(ctx context.Context, guildID string) ([]MinecraftWhitelistEntry, error)
	Ops(ctx context.Context, guildID string) ([]MinecraftWhitelistEntry, error)
	SetOp(ctx context.Context, guildID, username string, op MinecraftOp) (bool, error)
	Worlds(ctx context.Context, guildID string) ([]MinecraftWorld, error)
	ActiveWorld(ctx context.Context, guildID string) (*MinecraftWorld, error)
	// SelectWorld marks the given world active and clears the flag on
	// every other world in the guild.
	SelectWorld(ctx context.Context, guildID, worldID string) error
	UpsertWorld(ctx context.Context, world MinecraftWorld) error

	AddGameKey(ctx context.Context, key GameKey) error
	// ClaimGameKey atomically redeems an unclaimed key for the given
	// title, returning ErrNotFound when none is available.
	ClaimGameKey(ctx context.Context, guildID, title, userID string) (*GameKey, error)
	AvailableGameKeys(ctx context.Context, guildID string) ([]GameKey, error)

	UpsertInvite(ctx context.Context, inv InviteRecord) error
	GuildInvites(ctx context.Context, guildID string) ([]InviteRecord, error)

	RecordTriviaAnswer(ctx context.Context, guildID, userID string, correct bool) error
	TriviaScore(ctx context.Context, guildID, userID string) (*TriviaScore, error)

	GetGuildSettings(ctx context.Context, guildID string) (*GuildSettings, error)
	UpsertGuildSettings(ctx context.Context, settings GuildSettings) error
	AllGuildSettings(ctx context.Context) ([]GuildSettings, error)

	AdminCredentials(ctx context.Context) (*AdminCredentials, error)
	SetAdminCredentials(ctx context.Context, username, passwordHash string) error

	// Counts gathers the aggregate totals published by the metrics
	// exporter.
	Counts(ctx context.Context) (*BotCounts, error)

	Close(ctx context.Context) error
}

// mongoStore implements DataStore on a MongoDB database.
type mongoStore struct {
	client *mongo.Client
	db     *mongo.Database
	logger *slog.Logger
}

// NewMongoStore connects to MongoDB per cfg, pings the primary, and
// ensures the indexes the operation layer depends on.
func NewMongoStore(
	ctx context.Context,
	cfg *MongoConfig,
	logHandler slog.Handler,
) (DataStore, error) {
	if cfg == nil {
		return nil, errors.New("nil mongo config")
	}
	logger := slog.New(logHandler).With(loggerNameKey, "datastore")

	monitor := newMongoCommandLogger(logHandler, cfg.SlowThreshold)
	opts := options.Client().
		ApplyURI(cfg.URI).
		SetMonitor(monitor.Monitor()).
		SetAppName("tacobot")

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("error connecting to mongo: %w", err)
	}
	if err = client.Ping(ctx, readpref.Primary()); err != nil {
		return nil, fmt.Errorf("error pinging mongo: %w", err)
	}

	m := &mongoStore{
		client: client,
		db:     client.Database(cfg.Database),
		logger: logger,
	}
	if err = m.ensureIndexes(ctx); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *mongoStore) ensureIndexes(ctx context.Context) error {
	indexes := map[string][]mongo.IndexModel{
		collectionTacos: {
			{
				Keys:    bson.D{{Key: "guild_id", Value: 1}, {Key: "user_id", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
		},
		collectionTacoGifts: {
			{Keys: bson.D{{Key: "guild_id", Value: 1}, {Key: "from_user_id", Value: 1}, {Key: "created_at", Value: -1}}},
		},
		collectionUsers: {
			{
				Keys:    bson.D{{Key: "user_id", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
		},
		collectionTwitchLinks: {
			{
				Keys:    bson.D{{Key: "user_id", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
			{Keys: bson.D{{Key: "code", Value: 1}}},
		},
		collectionWhitelist: {
			{
				Keys:    bson.D{{Key: "guild_id", Value: 1}, {Key: "username", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
		},
		collectionWorlds: {
			{
				Keys:    bson.D{{Key: "guild_id", Value: 1}, {Key: "world_id", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
		},
		collectionInvites: {
			{
				Keys:    bson.D{{Key: "guild_id", Value: 1}, {Key: "code", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
		},
		collectionTrivia: {
			{
				Keys:    bson.D{{Key: "guild_id", Value: 1}, {Key: "user_id", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
		},
		collectionSettings: {
			{
				Keys:    bson.D{{Key: "guild_id", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
		},
	}
	for coll, models := range indexes {
		if _, err := m.db.Collection(coll).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("error creating %s indexes: %w", coll, err)
		}
	}
	return nil
}

// opCtx bounds database operations that arrive without a deadline.
func opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, dbOperationTimeout)
}

func (m *mongoStore) UpsertUser(ctx context.Context, u discordgo.User) (
	*User,
	bool,
	error,
) {
	ctx, cancel := opCtx(ctx)
	defer cancel()

	now := time.Now().UTC().UnixMilli()
	filter := bson.M{"user_id": u.ID}
	update := bson.M{
		"$set": bson.M{
			"username":    u.Username,
			"global_name": u.GlobalName,
			"last_seen":   now,
		},
		"$setOnInsert": bson.M{"ignored": false},
	}
	opts := options.FindOneAndUpdate().
		SetUpsert(true).
		SetReturnDocument(options.Before)

	var before User
	err := m.db.Collection(collectionUsers).
		FindOneAndUpdate(ctx, filter, update, opts).
		Decode(&before)
	if errors.Is(err, mongo.ErrNoDocuments) {
		created := NewUser(u)
		m.logger.InfoContext(ctx, "creating new user", "user", created)
		return created, true, nil
	}
	if err != nil {
		return nil, false, err
	}

	if before.userChangedDiscordUsername(u) {
		m.logger.Info(
			"user changed username since last seen",
			slog.Group(
				"old",
				"username", before.Username,
				"global_name", before.GlobalName,
			),
			slog.Group(
				"new",
				"username", u.Username,
				"global_name", u.GlobalName,
			),
		)
	}
	before.Username = u.Username
	before.GlobalName = u.GlobalName
	before.LastSeen = now
	return &before, false, nil
}

func (m *mongoStore) GetUser(ctx context.Context, userID string) (*User, error) {
	ctx, cancel := opCtx(ctx)
	defer cancel()

	var user User
	err := m.db.Collection(collectionUsers).
		FindOne(ctx, bson.M{"user_id": userID}).
		Decode(&user)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// AddTacos uses a pipeline update so the clamp at zero happens in a
// single document write.
func (m *mongoStore) AddTacos(
	ctx context.Context,
	guildID string,
	userID string,
	amount int64,
) (int64, error) {
	ctx, cancel := opCtx(ctx)
	defer cancel()

	filter := bson.M{"guild_id": guildID, "user_id": userID}
	update := mongo.Pipeline{
		{{Key: "$set", Value: bson.M{
			"count": bson.M{
				"$max": bson.A{
					int64(0),
					bson.M{"$add": bson.A{
						bson.M{"$ifNull": bson.A{"$count", int64(0)}},
						amount,
					}},
				},
			},
			"updated_at": time.Now().UTC().UnixMilli(),
		}}},
	}
	opts := options.FindOneAndUpdate().
		SetUpsert(true).
		SetReturnDocument(options.After)

	var entry TacoEntry
	err := m.db.Collection(collectionTacos).
		FindOneAndUpdate(ctx, filter, update, opts).
		Decode(&entry)
	if err != nil {
		return 0, err
	}
	return entry.Count, nil
}

func (m *mongoStore) TacoCount(
	ctx context.Context,
	guildID string,
	userID string,
) (int64, error) {
	ctx, cancel := opCtx(ctx)
	defer cancel()

	var entry TacoEntry
	err := m.db.Collection(collectionTacos).
		FindOne(ctx, bson.M{"guild_id": guildID, "user_id": userID}).
		Decode(&entry)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return entry.Count, nil
}

func (m *mongoStore) RecordGift(ctx context.Context, gift TacoGift) error {
	ctx, cancel := opCtx(ctx)
	defer cancel()

	if gift.CreatedAt == 0 {
		gift.CreatedAt = time.Now().UTC().UnixMilli()
	}
	_, err := m.db.Collection(collectionTacoGifts).InsertOne(ctx, gift)
	return err
}

func (m *mongoStore) GiftTotal24h(
	ctx context.Context,
	guildID string,
	fromUserID string,
) (int64, error) {
	ctx, cancel := opCtx(ctx)
	defer cancel()

	since := time.Now().UTC().Add(-24 * time.Hour).UnixMilli()
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{
			"guild_id":     guildID,
			"from_user_id": fromUserID,
			"created_at":   bson.M{"$gte": since},
			"amount":       bson.M{"$gt": 0},
		}}},
		{{Key: "$group", Value: bson.M{
			"_id":   nil,
			"total": bson.M{"$sum": "$amount"},
		}}},
	}
	cursor, err := m.db.Collection(collectionTacoGifts).Aggregate(ctx, pipeline)
	if err != nil {
		return 0, err
	}
	defer cursor.Close(ctx)

	var results []struct {
		Total int64 `bson:"total"`
	}
	if err = cursor.All(ctx, &results); err != nil {
		return 0, err
	}
	if len(results) == 0 {
		return 0, nil
	}
	return results[0].Total, nil
}

func (m *mongoStore) Leaderboard(
	ctx context.Context,
	guildID string,
	limit int64,
) ([]TacoEntry, error) {
	ctx, cancel := opCtx(ctx)
	defer cancel()

	opts := options.Find().
		SetSort(bson.D{{Key: "count", Value: -1}, {Key: "user_id", Value: 1}}).
		SetLimit(limit)
	cursor, err := m.db.Collection(collectionTacos).Find(
		ctx,
		bson.M{"guild_id": guildID, "count": bson.M{"$gt": 0}},
		opts,
	)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var entries []TacoEntry
	if err = cursor.All(ctx, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

func (m *mongoStore) CreateTwitchLink(
	ctx context.Context,
	userID string,
	code string,
) (*TwitchLink, error) {
	ctx, cancel := opCtx(ctx)
	defer cancel()

	filter := bson.M{"user_id": userID}
	update := bson.M{
		"$set": bson.M{
			"code":     code,
			"verified": false,
		},
		"$setOnInsert": bson.M{
			"created_at": time.Now().UTC().UnixMilli(),
		},
	}
	opts := options.FindOneAndUpdate().
		SetUpsert(true).
		SetReturnDocument(options.After)

	var link TwitchLink
	err := m.db.Collection(collectionTwitchLinks).
		FindOneAndUpdate(ctx, filter, update, opts).
		Decode(&link)
	if err != nil {
		return nil, err
	}
	return &link, nil
}

func (m *mongoStore) SetTwitchName(
	ctx context.Context,
	userID string,
	twitchName string,
) (*TwitchLink, error) {
	ctx, cancel := opCtx(ctx)
	defer cancel()

	filter := bson.M{"user_id": userID}
	update := bson.M{
		"$set": bson.M{"twitch_name": twitchName},
		"$setOnInsert": bson.M{
			"verified":   false,
			"created_at": time.Now().UTC().UnixMilli(),
		},
	}
	opts := options.FindOneAndUpdate().
		SetUpsert(true).
		SetReturnDocument(options.After)

	var link TwitchLink
	err := m.db.Collection(collectionTwitchLinks).
		FindOneAndUpdate(ctx, filter, update, opts).
		Decode(&link)
	if err != nil {
		return nil, err
	}
	return &link, nil
}

func (m *mongoStore) ConfirmTwitchLink(
	ctx context.Context,
	code string,
	twitchName string,
) (*TwitchLink, error) {
	ctx, cancel := opCtx(ctx)
	defer cancel()

	filter := bson.M{"code": code, "verified": false}
	update := bson.M{
		"$set": bson.M{
			"twitch_name": twitchName,
			"verified":    true,
			"code":        "",
		},
	}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var link TwitchLink
	err := m.db.Collection(collectionTwitchLinks).
		FindOneAndUpdate(ctx, filter, update, opts).
		Decode(&link)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &link, nil
}

func (m *mongoStore) GetTwitchLink(ctx context.Context, userID string) (
	*TwitchLink,
	error,
) {
	ctx, cancel := opCtx(ctx)
	defer cancel()

	var link TwitchLink
	err := m.db.Collection(collectionTwitchLinks).
		FindOne(ctx, bson.M{"user_id": userID}).
		Decode(&link)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &link, nil
}

func (m *mongoStore) RemoveTwitchLink(ctx context.Context, userID string) error {
	ctx, cancel := opCtx(ctx)
	defer cancel()

	rv, err := m.db.Collection(collectionTwitchLinks).
		DeleteOne(ctx, bson.M{"user_id": userID})
	if err != nil {
		return err
	}
	if rv.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (m *mongoStore) TwitchLinks(ctx context.Context) ([]TwitchLink, error) {
	ctx, cancel := opCtx(ctx)
	defer cancel()

	cursor, err := m.db.Collection(collectionTwitchLinks).
		Find(ctx, bson.M{"verified": true})
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var links []TwitchLink
	if err = cursor.All(ctx, &links); err != nil {
		return nil, err
	}
	return links, nil
}

func (m *mongoStore) SetTwitchLive(
	ctx context.Context,
	twitchName string,
	live bool,
) (bool, error) {
	ctx, cancel := opCtx(ctx)
	defer cancel()

	rv, err := m.db.Collection(collectionTwitchLinks).UpdateOne(
		ctx,
		bson.M{"twitch_name": twitchName, "verified": true},
		bson.M{"$set": bson.M{"live": live}},
	)
	if err != nil {
		return false, err
	}
	return rv.MatchedCount > 0, nil
}

func (m *mongoStore) WhitelistAdd(
	ctx context.Context,
	entry MinecraftWhitelistEntry,
) error {
	ctx, cancel := opCtx(ctx)
	defer cancel()

	filter := bson.M{"guild_id": entry.GuildID, "username": entry.Username}
	update := bson.M{
		"$set": bson.M{
			"uuid":     entry.UUID,
			"added_by": entry.AddedBy,
		},
		"$setOnInsert": bson.M{
			"op":         MinecraftOp{},
			"created_at": time.Now().UTC().UnixMilli(),
		},
	}
	_, err := m.db.Collection(collectionWhitelist).UpdateOne(
		ctx,
		filter,
		update,
		options.Update().SetUpsert(true),
	)
	return err
}

func (m *mongoStore) WhitelistRemove(
	ctx context.Context,
	guildID string,
	username string,
) (bool, error) {
	ctx, cancel := opCtx(ctx)
	defer cancel()

	rv, err := m.db.Collection(collectionWhitelist).DeleteOne(
		ctx,
		bson.M{"guild_id": guildID, "username": username},
	)
	if err != nil {
		return false, err
	}
	return rv.DeletedCount > 0, nil
}

func (m *mongoStore) Whitelist(ctx context.Context, guildID string) (
	[]MinecraftWhitelistEntry,
	error,
) {
	return m.findWhitelist(ctx, bson.M{"guild_id": guildID})
}

func (m *mongoStore) Ops(ctx context.Context, guildID string) (
	[]MinecraftWhitelistEntry,
	error,
) {
	return m.findWhitelist(
		ctx,
		bson.M{"guild_id": guildID, "op.enabled": true},
	)
}

func (m *mongoStore) findWhitelist(ctx context.Context, filter bson.M) (
	[]MinecraftWhitelistEntry,
	error,
) {
	ctx, cancel := opCtx(ctx)
	defer cancel()

	opts := options.Find().SetSort(bson.D{{Key: "username", Value: 1}})
	cursor, err := m.db.Collection(collectionWhitelist).Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var entries []MinecraftWhitelistEntry
	if err = cursor.All(ctx, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

func (m *mongoStore) SetOp(
	ctx context.Context,
	guildID string,
	username string,
	op MinecraftOp,
) (bool, error) {
	ctx, cancel := opCtx(ctx)
	defer cancel()

	rv, err := m.db.Collection(collectionWhitelist).UpdateOne(
		ctx,
		bson.M{"guild_id": guildID, "username": username},
		bson.M{"$set": bson.M{"op": op}},
	)
	if err != nil {
		return false, err
	}
	return rv.MatchedCount > 0, nil
}

func (m *mongoStore) Worlds(ctx context.Context, guildID string) (
	[]MinecraftWorld,
	error,
) {
	ctx, cancel := opCtx(ctx)
	defer cancel()

	opts := options.Find().SetSort(bson.D{{Key: "name", Value: 1}})
	cursor, err := m.db.Collection(collectionWorlds).
		Find(ctx, bson.M{"guild_id": guildID}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var worlds []MinecraftWorld
	if err = cursor.All(ctx, &worlds); err != nil {
		return nil, err
	}
	return worlds, nil
}

func (m *mongoStore) ActiveWorld(ctx context.Context, guildID string) (
	*MinecraftWorld,
	error,
) {
	ctx, cancel := opCtx(ctx)
	defer cancel()

	var world MinecraftWorld
	err := m.db.Collection(collectionWorlds).
		FindOne(ctx, bson.M{"guild_id": guildID, "active": true}).
		Decode(&world)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &world, nil
}

func (m *mongoStore) SelectWorld(
	ctx context.Context,
	guildID string,
	worldID string,
) error {
	ctx, cancel := opCtx(ctx)
	defer cancel()

	coll := m.db.Collection(collectionWorlds)
	rv, err := coll.UpdateOne(
		ctx,
		bson.M{"guild_id": guildID, "world_id": worldID},
		bson.M{"$set": bson.M{"active": true}},
	)
	if err != nil {
		return err
	}
	if rv.MatchedCount == 0 {
		return ErrNotFound
	}
	_, err = coll.UpdateMany(
		ctx,
		bson.M{"guild_id": guildID, "world_id": bson.M{"$ne": worldID}},
		bson.M{"$set": bson.M{"active": false}},
	)
	return err
}

func (m *mongoStore) UpsertWorld(ctx context.Context, world MinecraftWorld) error {
	ctx, cancel := opCtx(ctx)
	defer cancel()

	_, err := m.db.Collection(collectionWorlds).UpdateOne(
		ctx,
		bson.M{"guild_id": world.GuildID, "world_id": world.WorldID},
		bson.M{"$set": bson.M{"name": world.Name}},
		options.Update().SetUpsert(true),
	)
	return err
}

func (m *mongoStore) AddGameKey(ctx context.Context, key GameKey) error {
	ctx, cancel := opCtx(ctx)
	defer cancel()

	if key.CreatedAt == 0 {
		key.CreatedAt = time.Now().UTC().UnixMilli()
	}
	_, err := m.db.Collection(collectionGameKeys).InsertOne(ctx, key)
	return err
}

func (m *mongoStore) ClaimGameKey(
	ctx context.Context,
	guildID string,
	title string,
	userID string,
) (*GameKey, error) {
	ctx, cancel := opCtx(ctx)
	defer cancel()

	filter := bson.M{
		"guild_id":    guildID,
		"title":       title,
		"redeemed_by": "",
	}
	update := bson.M{
		"$set": bson.M{
			"redeemed_by": userID,
			"redeemed_at": time.Now().UTC().UnixMilli(),
		},
	}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var key GameKey
	err := m.db.Collection(collectionGameKeys).
		FindOneAndUpdate(ctx, filter, update, opts).
		Decode(&key)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &key, nil
}

func (m *mongoStore) AvailableGameKeys(ctx context.Context, guildID string) (
	[]GameKey,
	error,
) {
	ctx, cancel := opCtx(ctx)
	defer cancel()

	opts := options.Find().SetSort(bson.D{{Key: "title", Value: 1}})
	cursor, err := m.db.Collection(collectionGameKeys).Find(
		ctx,
		bson.M{"guild_id": guildID, "redeemed_by": ""},
		opts,
	)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var keys []GameKey
	if err = cursor.All(ctx, &keys); err != nil {
		return nil, err
	}
	return keys, nil
}

func (m *mongoStore) UpsertInvite(ctx context.Context, inv InviteRecord) error {
	ctx, cancel := opCtx(ctx)
	defer cancel()

	filter := bson.M{"guild_id": inv.GuildID, "code": inv.Code}
	update := bson.M{
		"$set": bson.M{
			"inviter_id": inv.InviterID,
			"uses":       inv.Uses,
		},
		"$setOnInsert": bson.M{
			"created_at": time.Now().UTC().UnixMilli(),
		},
	}
	_, err := m.db.Collection(collectionInvites).UpdateOne(
		ctx,
		filter,
		update,
		options.Update().SetUpsert(true),
	)
	return err
}

func (m *mongoStore) GuildInvites(ctx context.Context, guildID string) (
	[]InviteRecord,
	error,
) {
	ctx, cancel := opCtx(ctx)
	defer cancel()

	cursor, err := m.db.Collection(collectionInvites).
		Find(ctx, bson.M{"guild_id": guildID})
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var invites []InviteRecord
	if err = cursor.All(ctx, &invites); err != nil {
		return nil, err
	}
	return invites, nil
}

func (m *mongoStore) RecordTriviaAnswer(
	ctx context.Context,
	guildID string,
	userID string,
	correct bool,
) error {
	ctx, cancel := opCtx(ctx)
	defer cancel()

	inc := bson.M{"incorrect": 1}
	if correct {
		inc = bson.M{"correct": 1}
	}
	_, err := m.db.Collection(collectionTrivia).UpdateOne(
		ctx,
		bson.M{"guild_id": guildID, "user_id": userID},
		bson.M{
			"$inc": inc,
			"$set": bson.M{"updated_at": time.Now().UTC().UnixMilli()},
		},
		options.Update().SetUpsert(true),
	)
	return err
}

func (m *mongoStore) TriviaScore(
	ctx context.Context,
	guildID string,
	userID string,
) (*TriviaScore, error) {
	ctx, cancel := opCtx(ctx)
	defer cancel()

	var score TriviaScore
	err := m.db.Collection(collectionTrivia).
		FindOne(ctx, bson.M{"guild_id": guildID, "user_id": userID}).
		Decode(&score)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return &TriviaScore{GuildID: guildID, UserID: userID}, nil
	}
	if err != nil {
		return nil, err
	}
	return &score, nil
}

func (m *mongoStore) GetGuildSettings(ctx context.Context, guildID string) (
	*GuildSettings,
	error,
) {
	ctx, cancel := opCtx(ctx)
	defer cancel()

	var settings GuildSettings
	err := m.db.Collection(collectionSettings).
		FindOne(ctx, bson.M{"guild_id": guildID}).
		Decode(&settings)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &settings, nil
}

func (m *mongoStore) UpsertGuildSettings(
	ctx context.Context,
	settings GuildSettings,
) error {
	ctx, cancel := opCtx(ctx)
	defer cancel()

	_, err := m.db.Collection(collectionSettings).UpdateOne(
		ctx,
		bson.M{"guild_id": settings.GuildID},
		bson.M{"$set": bson.M{
			"name":                    settings.Name,
			"notification_channel_id": settings.NotificationChannelID,
			"taco_gift_limit_24h":     settings.TacoGiftLimit24h,
			"updated_at":              time.Now().UTC().UnixMilli(),
		}},
		options.Update().SetUpsert(true),
	)
	return err
}

func (m *mongoStore) AllGuildSettings(ctx context.Context) ([]GuildSettings, error) {
	ctx, cancel := opCtx(ctx)
	defer cancel()

	cursor, err := m.db.Collection(collectionSettings).Find(ctx, bson.M{})
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var settings []GuildSettings
	if err = cursor.All(ctx, &settings); err != nil {
		return nil, err
	}
	return settings, nil
}

func (m *mongoStore) AdminCredentials(ctx context.Context) (
	*AdminCredentials,
	error,
) {
	ctx, cancel := opCtx(ctx)
	defer cancel()

	var creds AdminCredentials
	err := m.db.Collection(collectionAdmin).FindOne(ctx, bson.M{}).Decode(&creds)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &creds, nil
}

func (m *mongoStore) SetAdminCredentials(
	ctx context.Context,
	username string,
	passwordHash string,
) error {
	ctx, cancel := opCtx(ctx)
	defer cancel()

	_, err := m.db.Collection(collectionAdmin).UpdateOne(
		ctx,
		bson.M{},
		bson.M{"$set": bson.M{
			"username": username,
			"password": passwordHash,
		}},
		options.Update().SetUpsert(true),
	)
	return err
}

// Counts gathers aggregate totals in parallel. A failure in any single
// count fails the whole refresh, which the metrics updater logs and
// retries on the next tick.
func (m *mongoStore) Counts(ctx context.Context) (*BotCounts, error) {
	ctx, cancel := opCtx(ctx)
	defer cancel()

	counts := &BotCounts{}
	g, gctx := errgroup.WithContext(ctx)

	countDocs := func(coll string, filter bson.M, dst *int64) func() error {
		return func() error {
			n, err := m.db.Collection(coll).CountDocuments(gctx, filter)
			if err != nil {
				return fmt.Errorf("error counting %s: %w", coll, err)
			}
			*dst = n
			return nil
		}
	}

	g.Go(countDocs(collectionSettings, bson.M{}, &counts.Guilds))
	g.Go(countDocs(collectionUsers, bson.M{}, &counts.Users))
	g.Go(countDocs(collectionTwitchLinks, bson.M{"verified": true}, &counts.TwitchLinks))
	g.Go(
		countDocs(
			collectionTwitchLinks,
			bson.M{"verified": true, "live": true},
			&counts.LiveNow,
		),
	)
	g.Go(countDocs(collectionWhitelist, bson.M{}, &counts.Whitelist))
	g.Go(countDocs(collectionGameKeys, bson.M{"redeemed_by": ""}, &counts.GameKeysFree))
	g.Go(
		countDocs(
			collectionGameKeys,
			bson.M{"redeemed_by": bson.M{"$ne": ""}},
			&counts.GameKeysRedeemed,
		),
	)
	g.Go(countDocs(collectionInvites, bson.M{}, &counts.Invites))

	g.Go(
		func() error {
			total, err := m.sumField(gctx, collectionTacos, bson.M{}, "$count")
			if err != nil {
				return err
			}
			counts.TacosTotal = total
			return nil
		},
	)
	g.Go(
		func() error {
			since := time.Now().UTC().Add(-24 * time.Hour).UnixMilli()
			total, err := m.sumField(
				gctx,
				collectionTacoGifts,
				bson.M{"created_at": bson.M{"$gte": since}, "amount": bson.M{"$gt": 0}},
				"$amount",
			)
			if err != nil {
				return err
			}
			counts.TacoGifts24h = total
			return nil
		},
	)
	g.Go(
		func() error {
			correct, err := m.sumField(gctx, collectionTrivia, bson.M{}, "$correct")
			if err != nil {
				return err
			}
			counts.TriviaCorrect = correct
			return nil
		},
	)
	g.Go(
		func() error {
			incorrect, err := m.sumField(gctx, collectionTrivia, bson.M{}, "$incorrect")
			if err != nil {
				return err
			}
			counts.TriviaIncorrect = incorrect
			return nil
		},
	)

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return counts, nil
}

func (m *mongoStore) sumField(
	ctx context.Context,
	coll string,
	filter bson.M,
	field string,
) (int64, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: filter}},
		{{Key: "$group", Value: bson.M{
			"_id":   nil,
			"total": bson.M{"$sum": field},
		}}},
	}
	cursor, err := m.db.Collection(coll).Aggregate(ctx, pipeline)
	if err != nil {
		return 0, fmt.Errorf("error aggregating %s: %w", coll, err)
	}
	defer cursor.Close(ctx)

	var results []struct {
		Total int64 `bson:"total"`
	}
	if err = cursor.All(ctx, &results); err != nil {
		return 0, err
	}
	if len(results) == 0 {
		return 0, nil
	}
	return results[0].Total, nil
}

func (m *mongoStore) Close(ctx context.Context) error {
	if err := m.client.Disconnect(ctx); err != nil {
		m.logger.Error("error disconnecting from mongo", tint.Err(err))
		return err
	}
	return nil
}
