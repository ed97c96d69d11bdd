package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fjod/storefront/internal/domain"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const cartItemsCollection = "cart_items"

// MongoCartRepository keeps cart lines in MongoDB. Products stay in the SQL
// catalog and are joined in memory through the catalog reader.
type MongoCartRepository struct {
	collection *mongo.Collection
	products   ProductRepository
}

func NewMongoCartRepository(db *mongo.Database, products ProductRepository) *MongoCartRepository {
	return &MongoCartRepository{
		collection: db.Collection(cartItemsCollection),
		products:   products,
	}
}

// CreateIndexes enforces one line per (user, product).
func (m *MongoCartRepository) CreateIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "user_id", Value: 1}, {Key: "product_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "created_at", Value: 1}},
		},
	}

	if _, err := m.collection.Indexes().CreateMany(ctx, indexes); err != nil {
		return fmt.Errorf("failed to create indexes: %w", err)
	}
	return nil
}

func (m *MongoCartRepository) ListItems(ctx context.Context, userID string) ([]domain.CartItem, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}})
	cursor, err := m.collection.Find(ctx, bson.M{"user_id": userID}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to find cart items: %w", err)
	}

	var stored []domain.CartItem
	if err := cursor.All(ctx, &stored); err != nil {
		return nil, fmt.Errorf("failed to decode cart items: %w", err)
	}
	return m.join(ctx, stored)
}

func (m *MongoCartRepository) GetItemByProduct(ctx context.Context, userID, productID string) (*domain.CartItem, error) {
	var item domain.CartItem
	err := m.collection.FindOne(ctx, bson.M{"user_id": userID, "product_id": productID}).Decode(&item)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrCartItemNotFound
		}
		return nil, fmt.Errorf("failed to get cart item: %w", err)
	}

	joined, err := m.join(ctx, []domain.CartItem{item})
	if err != nil {
		return nil, err
	}
	if len(joined) == 0 {
		return nil, ErrProductNotFound
	}
	return &joined[0], nil
}

func (m *MongoCartRepository) InsertItem(ctx context.Context, item *domain.CartItem) error {
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now().UTC()
	}

	if _, err := m.collection.InsertOne(ctx, item); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrDuplicateCartItem
		}
		return fmt.Errorf("failed to insert cart item: %w", err)
	}
	return nil
}

func (m *MongoCartRepository) UpdateItemQuantity(ctx context.Context, userID, itemID string, quantity int) error {
	filter := bson.M{"_id": itemID, "user_id": userID}
	update := bson.M{"$set": bson.M{"quantity": quantity}}

	result, err := m.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("failed to update item quantity: %w", err)
	}
	if result.MatchedCount == 0 {
		return ErrCartItemNotFound
	}
	return nil
}

func (m *MongoCartRepository) DeleteItem(ctx context.Context, userID, itemID string) error {
	result, err := m.collection.DeleteOne(ctx, bson.M{"_id": itemID, "user_id": userID})
	if err != nil {
		return fmt.Errorf("failed to remove item: %w", err)
	}
	if result.DeletedCount == 0 {
		return ErrCartItemNotFound
	}
	return nil
}

// SubtractItems reduces or deletes each line with a guarded single-document
// write, so a concurrent change to the line is never overwritten.
func (m *MongoCartRepository) SubtractItems(ctx context.Context, userID string, lines []domain.OrderedLine) (int64, error) {
	var changed int64
	for _, line := range lines {
		if line.Quantity <= 0 {
			continue
		}
		filter := bson.M{"_id": line.CartItemID, "user_id": userID, "quantity": bson.M{"$gt": line.Quantity}}
		result, err := m.collection.UpdateOne(ctx, filter, bson.M{"$inc": bson.M{"quantity": -line.Quantity}})
		if err != nil {
			return changed, fmt.Errorf("failed to reduce item: %w", err)
		}
		if result.ModifiedCount > 0 {
			changed++
			continue
		}

		filter = bson.M{"_id": line.CartItemID, "user_id": userID, "quantity": bson.M{"$lte": line.Quantity}}
		deleted, err := m.collection.DeleteOne(ctx, filter)
		if err != nil {
			return changed, fmt.Errorf("failed to remove item: %w", err)
		}
		changed += deleted.DeletedCount
	}
	return changed, nil
}

func (m *MongoCartRepository) DeleteCart(ctx context.Context, userID string) error {
	if _, err := m.collection.DeleteMany(ctx, bson.M{"user_id": userID}); err != nil {
		return fmt.Errorf("failed to delete cart: %w", err)
	}
	return nil
}

// join attaches product snapshots. Lines whose product left the catalog are
// dropped, matching the inner join of the SQL backend.
func (m *MongoCartRepository) join(ctx context.Context, stored []domain.CartItem) ([]domain.CartItem, error) {
	items := make([]domain.CartItem, 0, len(stored))
	if len(stored) == 0 {
		return items, nil
	}

	ids := make([]string, 0, len(stored))
	seen := make(map[string]struct{}, len(stored))
	for _, item := range stored {
		if _, ok := seen[item.ProductID]; !ok {
			seen[item.ProductID] = struct{}{}
			ids = append(ids, item.ProductID)
		}
	}

	products, err := m.products.GetProducts(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to join products: %w", err)
	}
	byID := make(map[string]domain.Product, len(products))
	for _, p := range products {
		byID[p.ID] = p
	}

	for _, item := range stored {
		p, ok := byID[item.ProductID]
		if !ok {
			continue
		}
		item.Product = p
		items = append(items, item)
	}
	return items, nil
}

var _ CartRepository = (*MongoCartRepository)(nil)
