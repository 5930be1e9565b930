package sqlinline

// QSchema creates the tables the service needs. Every statement is idempotent.
const QSchema = `--sql 4c8d1e6a-3f92-4b05-a7e3-9d2b6f0c8e41
create extension if not exists pgcrypto;

create table if not exists video_jobs (
    id                  uuid primary key default gen_random_uuid(),
    job_id              text not null unique,
    user_id             text not null,
    user_email          text not null default '',
    product_name        text not null,
    product_description text not null default '',
    target_audience     text not null default '',
    ugc_style           text not null default '',
    platform            text not null,
    duration            int  not null,
    aspect_ratio        text not null,
    scene_count         int  not null,
    product_image_url   text not null,
    status              text not null default 'pending',
    progress_percentage int  not null default 0,
    current_step        text not null default '',
    product_analysis    jsonb,
    character_model     jsonb,
    video_segments      jsonb,
    character_image_url text not null default '',
    start_frame_url     text not null default '',
    end_frame_url       text not null default '',
    frame_url_1 text not null default '', frame_url_2 text not null default '',
    frame_url_3 text not null default '', frame_url_4 text not null default '',
    frame_url_5 text not null default '', frame_url_6 text not null default '',
    frame_url_7 text not null default '', frame_url_8 text not null default '',
    video_url_1 text not null default '', video_url_2 text not null default '',
    video_url_3 text not null default '', video_url_4 text not null default '',
    video_url_5 text not null default '', video_url_6 text not null default '',
    video_url_7 text not null default '', video_url_8 text not null default '',
    audio_url           text not null default '',
    video_url           text not null default '',
    thumbnail_url       text not null default '',
    error_message       text not null default '',
    credits_cost        int  not null default 0,
    credits_refunded    int  not null default 0,
    created_at          timestamptz not null default now(),
    started_at          timestamptz,
    completed_at        timestamptz,
    updated_at          timestamptz not null default now()
);

create index if not exists video_jobs_user_created_idx on video_jobs (user_id, created_at desc);
create index if not exists video_jobs_status_updated_idx on video_jobs (status, updated_at);

create table if not exists user_credits (
    user_id    text primary key,
    balance    int not null default 0 check (balance >= 0),
    updated_at timestamptz not null default now()
);

create table if not exists credit_transactions (
    id         uuid primary key default gen_random_uuid(),
    user_id    text not null,
    job_id     text not null,
    kind       text not null check (kind in ('deduct', 'refund')),
    amount     int  not null,
    created_at timestamptz not null default now(),
    unique (job_id, kind)
);

create table if not exists provider_tokens (
    provider   text primary key,
    token      text not null,
    updated_by text not null default '',
    revoked_at timestamptz,
    created_at timestamptz not null default now(),
    updated_at timestamptz not null default now()
);
`
