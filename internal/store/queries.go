package store

// SQL query constants organized by entity.
// All SQL lives here; PostgresStore methods reference these constants.

// Subscriber queries.
const (
	queryEnsureSubscriber = `
		INSERT INTO subscribers (chat_id)
		VALUES ($1)
		ON CONFLICT (chat_id) DO NOTHING`

	queryListSubscribers = `
		SELECT chat_id, created_at
		FROM subscribers
		ORDER BY chat_id`
)

// Tracked item queries.
const (
	queryListItems = `
		SELECT chat_id, product_id, variant_selector, name,
			current_price, previous_notified_price, pending_change, last_updated
		FROM tracked_items
		WHERE chat_id = $1
		ORDER BY product_id, variant_selector`

	queryListDistinctProductIDs = `
		SELECT DISTINCT product_id
		FROM tracked_items
		ORDER BY product_id`

	queryListItemsByProduct = `
		SELECT chat_id, product_id, variant_selector, name,
			current_price, previous_notified_price, pending_change, last_updated
		FROM tracked_items
		WHERE product_id = $1
		ORDER BY chat_id, variant_selector`

	queryUpsertItem = `
		INSERT INTO tracked_items (
			chat_id, product_id, variant_selector, name,
			current_price, previous_notified_price, pending_change, last_updated
		) VALUES (
			@chat_id, @product_id, @variant_selector, @name,
			@current_price, @previous_notified_price, @pending_change, now()
		)
		ON CONFLICT (chat_id, product_id, variant_selector) DO UPDATE SET
			name = EXCLUDED.name,
			current_price = EXCLUDED.current_price,
			previous_notified_price = EXCLUDED.previous_notified_price,
			pending_change = EXCLUDED.pending_change,
			last_updated = now()`

	queryRemoveItem = `
		DELETE FROM tracked_items
		WHERE chat_id = $1 AND product_id = $2 AND variant_selector = $3`

	queryRemoveProduct = `
		DELETE FROM tracked_items
		WHERE chat_id = $1 AND product_id = $2`

	queryClearItems = `
		DELETE FROM tracked_items
		WHERE chat_id = $1`

	queryUpdateObservation = `
		UPDATE tracked_items SET
			name = @name,
			current_price = @current_price,
			pending_change = @pending_change,
			last_updated = now()
		WHERE chat_id = @chat_id
			AND product_id = @product_id
			AND variant_selector = @variant_selector`

	queryCommitItem = `
		UPDATE tracked_items SET
			pending_change = FALSE,
			previous_notified_price = current_price
		WHERE chat_id = $1 AND product_id = $2 AND variant_selector = $3`
)

// Tick run queries.
const (
	queryInsertTickRun = `
		INSERT INTO tick_runs (id, started_at, status)
		VALUES ($1, now(), 'running')`

	queryCompleteTickRun = `
		UPDATE tick_runs SET
			completed_at = now(),
			status = $2,
			error_text = $3,
			items_refreshed = $4,
			items_changed = $5,
			messages_sent = $6
		WHERE id = $1`

	queryListTickRuns = `
		SELECT id, started_at, completed_at, status, error_text,
			items_refreshed, items_changed, messages_sent
		FROM tick_runs
		ORDER BY started_at DESC
		LIMIT $1`
)
